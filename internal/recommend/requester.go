package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"ConsultSync/internal/protocol"
)

// Channel 주 경로가 필요로 하는 채널 능력
type Channel interface {
	Publish(topic string, env *protocol.Envelope) error
	Connected() bool
}

// ResultHandler 확정된 추천 결과 통지（요청당 최대 한 번）
type ResultHandler func(result protocol.RecommendationResultPayload)

// ErrorHandler 두 경로 모두 실패했을 때의 단일 통지
type ErrorHandler func(err *DeliveryError)

// Config 이중 경로 전달 설정
type Config struct {
	// FallbackEndpoint 추천 파이프라인 HTTP 엔드포인트
	FallbackEndpoint string
	// RequestTimeout 폴백 호출 시한
	RequestTimeout time.Duration
}

// DefaultConfig 기본 설정
func DefaultConfig(endpoint string) *Config {
	return &Config{
		FallbackEndpoint: endpoint,
		RequestTimeout:   10 * time.Second,
	}
}

// fallbackRequest 폴백 엔드포인트 요청 본문
type fallbackRequest struct {
	CustomerID string `json:"customerId"`
	VoiceText  string `json:"voiceText"`
}

// fallbackResponse 폴백 엔드포인트 응답 본문
type fallbackResponse struct {
	Recommendations []protocol.Product `json:"recommendations"`
	IntentAnalysis  struct {
		Intent string `json:"intent"`
	} `json:"intentAnalysis"`
	Confidence float64 `json:"confidence"`
}

// Requester 추천 요청의 이중 경로 전달 계층.
// 주 경로는 채널이 살아 있을 때의 recommendation-request 발행, 폴백
// 경로는 무조건 수행하는 HTTP 호출이다. 먼저 파싱된 결과가 정확히 한 번
// 적용되고, 적용된 결과는 상대 화면을 향해 tab-change +
// recommendation-result 봉투 쌍으로 재발행된다 — 채널이 죽어 있던 동안
// 폴백으로 얻은 결과도 채널 복구 후 상대에게 닿는다.
// 호출자는 어느 경로가 성공했는지 추론할 필요가 없다.
type Requester struct {
	config     *Config
	httpClient *http.Client
	channel    Channel
	sessionID  string
	customerID string
	topic      string

	onResult ResultHandler
	onError  ErrorHandler

	// 적용 가드: 요청 시퀀스와 적용 여부를 하나의 잠금 아래에서
	// 동기적으로 판정한다. 두 경로가 동시에 적용하는 경합과, 새 요청
	// 이후에 도착한 과거 요청의 느린 결과를 모두 여기서 걸러낸다.
	mu          sync.Mutex
	seq         int64
	appliedSeq  int64
	primarySent map[int64]bool
}

// New 새 전달 계층 생성
func New(config *Config, channel Channel, sessionID, customerID string) *Requester {
	if config == nil {
		panic("config cannot be nil")
	}
	return &Requester{
		config:      config,
		httpClient:  &http.Client{Timeout: config.RequestTimeout},
		channel:     channel,
		sessionID:   sessionID,
		customerID:  customerID,
		topic:       protocol.SessionTopic(sessionID),
		primarySent: make(map[int64]bool),
	}
}

// OnResult 결과 처리기 등록
func (r *Requester) OnResult(fn ResultHandler) {
	r.onResult = fn
}

// OnDeliveryError 전체 실패 처리기 등록. 운영자에게 한 번 표시되는
// 비차단 오류이며 자동 재시도는 없다 — 재요청은 음성이나 UI 조작으로.
func (r *Requester) OnDeliveryError(fn ErrorHandler) {
	r.onError = fn
}

// Request 추천 요청을 발행한다. 즉시 반환하며 결과는 OnResult로,
// 전체 실패는 OnDeliveryError로 통지된다. 새 요청은 이전 요청을
// 관례적으로 대체한다（명시적 취소는 없다）.
func (r *Requester) Request(ctx context.Context, voiceText string) int64 {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	// 주 경로: 채널이 살아 있을 때만. 실패는 기록만 하고 치명으로
	// 다루지 않는다.
	var primaryErr error
	if r.channel.Connected() {
		env, err := protocol.NewEnvelope(protocol.TypeRecommendationRequest, r.sessionID,
			protocol.RecommendationRequestPayload{
				SessionID:  r.sessionID,
				CustomerID: r.customerID,
				VoiceText:  voiceText,
				RequestSeq: seq,
			})
		if err == nil {
			err = r.channel.Publish(r.topic, env)
		}
		primaryErr = err
	} else {
		primaryErr = fmt.Errorf("channel not connected")
	}

	if primaryErr != nil {
		log.Printf("recommend: primary path unavailable for request %d: %v", seq, primaryErr)
	} else {
		r.mu.Lock()
		r.primarySent[seq] = true
		r.mu.Unlock()
	}

	// 폴백 경로: 무조건 수행
	go r.runFallback(ctx, seq, voiceText, primaryErr)

	return seq
}

func (r *Requester) runFallback(ctx context.Context, seq int64, voiceText string, primaryErr error) {
	result, err := r.callFallback(ctx, voiceText)
	if err != nil {
		r.mu.Lock()
		primaryWasSent := r.primarySent[seq]
		applied := r.appliedSeq == seq
		superseded := seq != r.seq
		r.mu.Unlock()

		if primaryWasSent || applied || superseded {
			// 주 경로가 나가 있거나, 결과가 이미 적용됐거나, 새 요청이
			// 이 요청을 대체했다 — 폴백 실패만으로는 치명이 아니다
			log.Printf("recommend: fallback path failed for request %d (non-fatal): %v", seq, err)
			return
		}
		r.notifyError(&DeliveryError{RequestSeq: seq, PrimaryErr: primaryErr, FallbackErr: err})
		return
	}

	result.RequestSeq = seq
	r.apply(seq, *result, "fallback")
}

// HandleChannelResult 주 경로로 도착한 recommendation-result 봉투 처리.
// 디스패처의 recommendation-result 처리기로 등록된다.
func (r *Requester) HandleChannelResult(env *protocol.Envelope) {
	var result protocol.RecommendationResultPayload
	if err := env.DecodeData(&result); err != nil {
		log.Printf("recommend: drop malformed channel result: %v", err)
		return
	}

	seq := result.RequestSeq
	if seq == 0 {
		// 백엔드가 시퀀스를 되돌려주지 않으면 현재 요청에 대한
		// 응답으로 간주한다
		r.mu.Lock()
		seq = r.seq
		r.mu.Unlock()
		result.RequestSeq = seq
	}

	r.apply(seq, result, "primary")
}

// apply 결과를 정확히 한 번 적용한다. 주/폴백 어느 쪽이 먼저 오든
// 첫 결과가 이기고, 이미 적용된 요청이나 대체된 과거 요청의 결과는
// 정보성으로 버린다.
func (r *Requester) apply(seq int64, result protocol.RecommendationResultPayload, source string) {
	r.mu.Lock()
	if seq != r.seq {
		r.mu.Unlock()
		log.Printf("recommend: drop stale %s result for request %d (current %d)", source, seq, r.seq)
		return
	}
	if r.appliedSeq == seq {
		r.mu.Unlock()
		log.Printf("recommend: drop duplicate %s result for request %d", source, seq)
		return
	}
	r.appliedSeq = seq
	delete(r.primarySent, seq)
	r.mu.Unlock()

	log.Printf("recommend: applied %s result for request %d (%d products, intent=%s)",
		source, seq, len(result.Recommendations), result.Intent)

	if r.onResult != nil {
		r.onResult(result)
	}

	r.republish(result)
}

// republish 확정된 결과를 상대 화면 쪽으로 재발행한다
func (r *Requester) republish(result protocol.RecommendationResultPayload) {
	tab, err := protocol.NewEnvelope(protocol.TypeTabChange, r.sessionID,
		protocol.TabChangePayload{ActiveTab: "products"})
	if err == nil {
		err = r.channel.Publish(r.topic, tab)
	}
	if err != nil {
		log.Printf("recommend: tab-change republish failed: %v", err)
	}

	res, err := protocol.NewEnvelope(protocol.TypeRecommendationResult, r.sessionID, result)
	if err == nil {
		err = r.channel.Publish(r.topic, res)
	}
	if err != nil {
		log.Printf("recommend: result republish failed: %v", err)
	}
}

func (r *Requester) callFallback(ctx context.Context, voiceText string) (*protocol.RecommendationResultPayload, error) {
	body, err := json.Marshal(fallbackRequest{
		CustomerID: r.customerID,
		VoiceText:  voiceText,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fallback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.FallbackEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fallback call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fallback returned %d: %s", resp.StatusCode, raw)
	}

	var parsed fallbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode fallback response: %w", err)
	}

	return &protocol.RecommendationResultPayload{
		Recommendations: parsed.Recommendations,
		Intent:          parsed.IntentAnalysis.Intent,
		Confidence:      parsed.Confidence,
	}, nil
}

func (r *Requester) notifyError(derr *DeliveryError) {
	log.Printf("recommend: %v", derr)
	if r.onError != nil {
		r.onError(derr)
	}
}

// AppliedSeq 마지막으로 적용된 요청 시퀀스（테스트 보조）
func (r *Requester) AppliedSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appliedSeq
}
