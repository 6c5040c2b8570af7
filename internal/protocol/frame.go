package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 릴레이 연결 프레임의 동작 구분자.
// 봉투(Envelope)는 클라이언트 사이의 의미 단위이고, 프레임은 클라이언트와
// 릴레이 사이의 전송 단위다.
const (
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpPublish      = "publish"
	OpHeartbeat    = "heartbeat"
	OpHeartbeatAck = "heartbeat-ack"
)

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrInvalidFrame  = errors.New("invalid frame format")
	ErrUnknownOp     = errors.New("unknown frame op")
)

// MaxFrameSize 봉투에 프레임 오버헤드를 더한 최대 크기
const MaxFrameSize = MaxEnvelopeSize + 4096

// Frame 클라이언트-릴레이 전송 프레임.
// publish 프레임만 Envelope을 싣고, 나머지는 제어용이다.
type Frame struct {
	Op       string          `json:"op"`
	Topic    string          `json:"topic,omitempty"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
	Seq      int64           `json:"seq,omitempty"`
}

// EncodeFrame 프레임을 JSON 바이트로 직렬화
func EncodeFrame(f *Frame) ([]byte, error) {
	if !isValidOp(f.Op) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame failed: %w", err)
	}
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return raw, nil
}

// DecodeFrame JSON 바이트에서 프레임을 복원
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if !isValidOp(f.Op) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
	}
	return &f, nil
}

// PublishFrame 봉투를 싣는 publish 프레임 생성
func PublishFrame(topic string, env *Envelope) (*Frame, error) {
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	return &Frame{Op: OpPublish, Topic: topic, Envelope: raw}, nil
}

func isValidOp(op string) bool {
	switch op {
	case OpSubscribe, OpUnsubscribe, OpPublish, OpHeartbeat, OpHeartbeatAck:
		return true
	default:
		return false
	}
}
