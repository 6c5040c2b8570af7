package dispatch

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"ConsultSync/internal/protocol"
)

// Handler 봉투 payload 처리기. 다른 컴포넌트에 부수효과를 가질 수 있지만
// 디스패처 자신은 라우팅 테이블 외의 상태를 갖지 않는다.
type Handler func(env *protocol.Envelope)

// Dispatcher 수신 봉투를 타입별 처리기로 라우팅한다.
// Dispatch는 닫힌 타입 집합 위의 전함수다: 인식된 타입은 등록된 처리기
// 하나를 동기 호출하고, 나머지는 진단 로그와 함께 버린다. 어떤 봉투도
// 수신 측 이벤트 루프를 무너뜨릴 수 없다.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]Handler

	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

// New 새 디스패처 생성
func New() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.MessageType]Handler),
	}
}

// Register 타입에 처리기를 등록한다. 변종당 처리기는 정확히 하나이며
// 재등록은 교체가 아니라 오류다 — 중복 등록은 배선 버그다.
func (d *Dispatcher) Register(msgType protocol.MessageType, handler Handler) error {
	if !msgType.IsValid() {
		return fmt.Errorf("register: unknown message type %q", msgType)
	}
	if handler == nil {
		return fmt.Errorf("register: nil handler for %s", msgType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[msgType]; exists {
		return fmt.Errorf("register: handler already registered for %s", msgType)
	}
	d.handlers[msgType] = handler
	return nil
}

// MustRegister 등록 실패 시 panic. 기동 시 배선 전용.
func (d *Dispatcher) MustRegister(msgType protocol.MessageType, handler Handler) {
	if err := d.Register(msgType, handler); err != nil {
		panic(err)
	}
}

// Dispatch 봉투를 해당 처리기로 전달한다. 절대 panic을 전파하지 않는다.
// 처리기가 발행한 봉투가 로컬 구독으로 되돌아와 재진입 호출이 되어도
// 교착하지 않는다（처리기 호출은 잠금 밖에서 이루어진다）.
func (d *Dispatcher) Dispatch(env *protocol.Envelope) {
	if env == nil {
		d.dropped.Add(1)
		log.Printf("dispatch: drop nil envelope")
		return
	}

	if !env.Type.IsValid() {
		d.dropped.Add(1)
		log.Printf("dispatch: drop unrecognized type %q (session %s)", env.Type, env.SessionID)
		return
	}

	d.mu.RLock()
	handler := d.handlers[env.Type]
	d.mu.RUnlock()

	if handler == nil {
		d.dropped.Add(1)
		log.Printf("dispatch: no handler for %s, dropped", env.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.dropped.Add(1)
			log.Printf("dispatch: handler for %s panicked: %v", env.Type, r)
		}
	}()

	d.dispatched.Add(1)
	handler(env)
}

// Dispatched 처리된 봉투 수
func (d *Dispatcher) Dispatched() uint64 {
	return d.dispatched.Load()
}

// Dropped 버려진 봉투 수（미등록 타입, 깨진 봉투, panic 복구 포함）
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
