package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected 연결이 끊긴 상태에서의 발행 시도
	ErrNotConnected = errors.New("transport is not connected")
	// ErrClosed 이미 닫힌 연결에 대한 조작
	ErrClosed = errors.New("transport is closed")
	// ErrInvalidHandler nil 핸들러 구독 시도
	ErrInvalidHandler = errors.New("subscription handler is nil")
)

// TransportError 전송 계층 오류. 호출자에게 타입 있는 오류로 전달되고,
// 관련 없는 코드 경로로 전파되지 않는다. 연결 자체는 자동 재연결로 복구된다.
type TransportError struct {
	Op    string // connect | publish | subscribe | read
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("transport %s on %s: %v", e.Op, e.Topic, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
