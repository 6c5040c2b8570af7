package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// 최대 봉투 크기 제한（메모리 공격 방지）
	MaxEnvelopeSize = 1024 * 1024 // 1MB
)

var (
	ErrEnvelopeTooLarge = errors.New("envelope too large")
	ErrEmptyType        = errors.New("envelope type is empty")
	ErrInvalidEnvelope  = errors.New("invalid envelope format")
)

// Timestamp 송신 측에 따라 숫자(unix ms) 또는 문자열로 올 수 있는 타임스탬프.
// 직렬화는 항상 unix ms 숫자로 한다.
type Timestamp struct {
	time.Time
}

// Now 현재 시각 타임스탬프
func Now() Timestamp {
	return Timestamp{Time: time.Now()}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(ts.UnixMilli(), 10)), nil
}

func (ts *Timestamp) UnmarshalJSON(raw []byte) error {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return err
		}
		// RFC3339 문자열 우선, 실패하면 숫자 문자열로 처리
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			ts.Time = t
			return nil
		}
		s = str
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidEnvelope, s)
	}
	ts.Time = time.UnixMilli(ms)
	return nil
}

// Envelope 클라이언트 간에 교환되는 모든 메시지의 공통 래퍼.
// 생성 후에는 불변으로 다룬다. 수신 측은 알 수 없는 최상위 필드를 무시한다.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`
}

// NewEnvelope payload를 직렬화해 봉투를 생성한다
func NewEnvelope(msgType MessageType, sessionID string, payload interface{}) (*Envelope, error) {
	if msgType == "" {
		return nil, ErrEmptyType
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload failed: %w", err)
		}
		data = raw
	}

	return &Envelope{
		Type:      msgType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: Now(),
	}, nil
}

// Encode 봉투를 JSON 바이트로 직렬화
func (e *Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope failed: %w", err)
	}
	if len(raw) > MaxEnvelopeSize {
		return nil, ErrEnvelopeTooLarge
	}
	return raw, nil
}

// DecodeEnvelope JSON 바이트에서 봉투를 복원한다.
// 알 수 없는 최상위 필드는 무시한다（전방 호환）. 타입의 유효성 검사는
// 디스패처의 몫이므로 여기서는 비어 있는 타입만 거부한다.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) > MaxEnvelopeSize {
		return nil, ErrEnvelopeTooLarge
	}

	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if e.Type == "" {
		return nil, ErrEmptyType
	}
	return &e, nil
}

// DecodeData 봉투의 payload를 대상 구조체로 역직렬화
func (e *Envelope) DecodeData(out interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty data for type %s", ErrInvalidEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data failed: %w", e.Type, err)
	}
	return nil
}

// SessionTopic 세션 ID에서 세션 범위 토픽 이름을 도출
func SessionTopic(sessionID string) string {
	return "consult:" + sessionID
}

// LobbyTopic 아직 세션에 짝지어지지 않은 상대 화면이 대기하는 기본 토픽
const LobbyTopic = "consult:lobby"
