package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsultSync/internal/protocol"
)

func mustEnvelope(t *testing.T, msgType protocol.MessageType, payload interface{}) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, "sess-t", payload)
	require.NoError(t, err)
	return env
}

// TestDispatchRoutesToRegisteredHandler 등록된 처리기 하나가 동기 호출된다
func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := New()

	var got *protocol.Envelope
	require.NoError(t, d.Register(protocol.TypeTabChange, func(env *protocol.Envelope) {
		got = env
	}))

	env := mustEnvelope(t, protocol.TypeTabChange, protocol.TabChangePayload{ActiveTab: "forms"})
	d.Dispatch(env)

	require.NotNil(t, got)
	assert.Equal(t, protocol.TypeTabChange, got.Type)
	assert.Equal(t, uint64(1), d.Dispatched())
}

// TestDispatchTotalFunction 미등록/미지 타입의 봉투는 어떤 상태도 바꾸지
// 않고 예외 없이 버려진다
func TestDispatchTotalFunction(t *testing.T) {
	d := New()

	handlerCalls := 0
	require.NoError(t, d.Register(protocol.TypeFieldInputSync, func(env *protocol.Envelope) {
		handlerCalls++
	}))

	// 닫힌 집합 밖의 타입
	assert.NotPanics(t, func() {
		d.Dispatch(&protocol.Envelope{Type: "version-skewed-type"})
	})
	// 등록되지 않은 유효 타입
	assert.NotPanics(t, func() {
		d.Dispatch(mustEnvelope(t, protocol.TypeCalculatorOpen, nil))
	})
	// nil 봉투
	assert.NotPanics(t, func() {
		d.Dispatch(nil)
	})

	assert.Equal(t, 0, handlerCalls)
	assert.Equal(t, uint64(0), d.Dispatched())
	assert.Equal(t, uint64(3), d.Dropped())
}

// TestDispatchRecoversHandlerPanic 처리기 panic이 이벤트 루프를 무너뜨리지 않는다
func TestDispatchRecoversHandlerPanic(t *testing.T) {
	d := New()
	require.NoError(t, d.Register(protocol.TypeProductSelected, func(env *protocol.Envelope) {
		panic("malformed payload assumption")
	}))

	assert.NotPanics(t, func() {
		d.Dispatch(mustEnvelope(t, protocol.TypeProductSelected, nil))
	})
	assert.Equal(t, uint64(1), d.Dropped())
}

// TestRegisterRejectsDuplicates 변종당 처리기는 정확히 하나
func TestRegisterRejectsDuplicates(t *testing.T) {
	d := New()
	noop := func(env *protocol.Envelope) {}

	require.NoError(t, d.Register(protocol.TypeFieldFocus, noop))
	assert.Error(t, d.Register(protocol.TypeFieldFocus, noop))
	assert.Error(t, d.Register("not-a-type", noop))
	assert.Error(t, d.Register(protocol.TypeTabChange, nil))
}

// TestReentrantDispatch 처리기 안에서의 재진입 디스패치가 교착하지 않는다
func TestReentrantDispatch(t *testing.T) {
	d := New()

	var order []protocol.MessageType
	require.NoError(t, d.Register(protocol.TypeCalculatorUpdate, func(env *protocol.Envelope) {
		order = append(order, env.Type)
	}))
	require.NoError(t, d.Register(protocol.TypeCalculatorOpen, func(env *protocol.Envelope) {
		order = append(order, env.Type)
		// 처리기가 발행한 봉투가 로컬 구독으로 즉시 되돌아온 상황
		d.Dispatch(mustEnvelope(t, protocol.TypeCalculatorUpdate, protocol.CalculatorUpdatePayload{
			Field: "principal", Value: "1000000",
		}))
	}))

	done := make(chan struct{})
	go func() {
		d.Dispatch(mustEnvelope(t, protocol.TypeCalculatorOpen, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant dispatch deadlocked")
	}

	assert.Equal(t, []protocol.MessageType{protocol.TypeCalculatorOpen, protocol.TypeCalculatorUpdate}, order)
}
