package protocol

// 메시지 타입 정의 - 두 클라이언트 사이에 오가는 모든 상호작용의 구분자
type MessageType string

const (
	// 세션 수명주기
	TypeSessionJoin       MessageType = "session-join"
	TypeConsultationEnded MessageType = "consultation-ended"

	// 화면 동기화
	TypeTabChange           MessageType = "tab-change"
	TypeCustomerInfoDisplay MessageType = "customer-info-display"
	TypeProductSelected     MessageType = "product-selected"
	TypeProductEnrollment   MessageType = "product-enrollment"
	TypeFormNavigation      MessageType = "form-navigation"
	TypeScreenHighlight     MessageType = "screen-highlight"

	// 서식 필드 동기화
	TypeFieldFocus         MessageType = "field-focus"
	TypeFieldInputSync     MessageType = "field-input-sync"
	TypeFieldInputComplete MessageType = "field-input-complete"

	// 계산기 원격 제어
	TypeCalculatorOpen   MessageType = "calculator-open"
	TypeCalculatorUpdate MessageType = "calculator-update"
	TypeCalculatorClose  MessageType = "calculator-close"

	// 음성 / 추천
	TypeSTTTranscript         MessageType = "stt-transcript"
	TypeRecommendationRequest MessageType = "recommendation-request"
	TypeRecommendationResult  MessageType = "recommendation-result"
)

// AllTypes 닫힌 타입 집합 (디스패처 등록 검증용)
var AllTypes = []MessageType{
	TypeSessionJoin, TypeConsultationEnded,
	TypeTabChange, TypeCustomerInfoDisplay, TypeProductSelected,
	TypeProductEnrollment, TypeFormNavigation, TypeScreenHighlight,
	TypeFieldFocus, TypeFieldInputSync, TypeFieldInputComplete,
	TypeCalculatorOpen, TypeCalculatorUpdate, TypeCalculatorClose,
	TypeSTTTranscript, TypeRecommendationRequest, TypeRecommendationResult,
}

func (t MessageType) String() string {
	return string(t)
}

// IsValid 메시지 타입이 닫힌 집합에 속하는지 확인
func (t MessageType) IsValid() bool {
	switch t {
	case TypeSessionJoin, TypeConsultationEnded,
		TypeTabChange, TypeCustomerInfoDisplay, TypeProductSelected,
		TypeProductEnrollment, TypeFormNavigation, TypeScreenHighlight,
		TypeFieldFocus, TypeFieldInputSync, TypeFieldInputComplete,
		TypeCalculatorOpen, TypeCalculatorUpdate, TypeCalculatorClose,
		TypeSTTTranscript, TypeRecommendationRequest, TypeRecommendationResult:
		return true
	default:
		return false
	}
}

// IsFieldType 필드 상태 동기화 계열 여부
func (t MessageType) IsFieldType() bool {
	switch t {
	case TypeFieldFocus, TypeFieldInputSync, TypeFieldInputComplete:
		return true
	default:
		return false
	}
}

// IsCalculatorType 계산기 원격 제어 계열 여부
func (t MessageType) IsCalculatorType() bool {
	switch t {
	case TypeCalculatorOpen, TypeCalculatorUpdate, TypeCalculatorClose:
		return true
	default:
		return false
	}
}
