package protocol

// SessionJoinPayload session-join 봉투의 payload
type SessionJoinPayload struct {
	Role          string `json:"role"`
	ParticipantID string `json:"participantId"`
}

// TabChangePayload tab-change 봉투의 payload
type TabChangePayload struct {
	ActiveTab string `json:"activeTab"`
}

// FieldPayload field-focus / field-input-sync / field-input-complete 공통 payload.
// Version은 필드별 단조 증가 스탬프로, 늦게 도착한 과거 수정을 걸러낸다.
type FieldPayload struct {
	FieldID string `json:"fieldId"`
	Value   string `json:"value,omitempty"`
	Version int64  `json:"version,omitempty"`
}

// HighlightPayload screen-highlight 봉투의 payload. 필드 맵에는 관여하지 않는다.
type HighlightPayload struct {
	TargetID string `json:"targetId"`
	Label    string `json:"label,omitempty"`
}

// CalculatorUpdatePayload calculator-update 봉투의 payload
type CalculatorUpdatePayload struct {
	Field string `json:"field"` // principal | rate | period | interestType
	Value string `json:"value"`
}

// TranscriptPayload stt-transcript 봉투의 payload
type TranscriptPayload struct {
	Text         string  `json:"text"`
	SpeakerLabel string  `json:"speakerLabel"`
	Confidence   float64 `json:"confidence"`
}

// Product 추천 결과에 담기는 상품 요약
type Product struct {
	ProductID   string  `json:"productId"`
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	BaseRate    float64 `json:"baseRate,omitempty"`
	Description string  `json:"description,omitempty"`
}

// RecommendationRequestPayload recommendation-request 봉투의 payload
type RecommendationRequestPayload struct {
	SessionID  string `json:"sessionId,omitempty"`
	CustomerID string `json:"customerId"`
	VoiceText  string `json:"voiceText"`
	Intent     string `json:"intent,omitempty"`
	RequestSeq int64  `json:"requestSeq,omitempty"`
}

// RecommendationResultPayload recommendation-result 봉투의 payload
type RecommendationResultPayload struct {
	Recommendations []Product `json:"recommendations"`
	Intent          string    `json:"intent"`
	Confidence      float64   `json:"confidence,omitempty"`
	RequestSeq      int64     `json:"requestSeq,omitempty"`
}
