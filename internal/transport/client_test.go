package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsultSync/internal/protocol"
	"ConsultSync/internal/relay"
)

func startRelay(t *testing.T, port int) (*relay.Server, string) {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := relay.New(relay.DefaultServerConfig(addr))
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, fmt.Sprintf("ws://%s/ws", addr)
}

func quickConfig(url string) *ConnConfig {
	cfg := DefaultConnConfig(url)
	cfg.ReconnectDelay = 100 * time.Millisecond
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.PingTimeout = 2 * time.Second
	return cfg
}

// TestPublishSubscribeRoundTrip 발행 봉투는 발행자를 포함한 같은 토픽의
// 모든 구독자에게 도착한다
func TestPublishSubscribeRoundTrip(t *testing.T) {
	srv, url := startRelay(t, 18101)
	topic := protocol.SessionTopic("sess-rt")

	operator := NewConn(quickConfig(url))
	counterpart := NewConn(quickConfig(url))
	require.NoError(t, operator.Connect(context.Background()))
	require.NoError(t, counterpart.Connect(context.Background()))
	defer operator.Disconnect()
	defer counterpart.Disconnect()

	opRecv := make(chan *protocol.Envelope, 4)
	cpRecv := make(chan *protocol.Envelope, 4)

	_, err := operator.Subscribe(topic, func(env *protocol.Envelope) { opRecv <- env })
	require.NoError(t, err)
	_, err = counterpart.Subscribe(topic, func(env *protocol.Envelope) { cpRecv <- env })
	require.NoError(t, err)

	// 릴레이가 두 구독을 모두 등록할 때까지 기다린다
	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 2
	}, 3*time.Second, 20*time.Millisecond)

	env, err := protocol.NewEnvelope(protocol.TypeTabChange, "sess-rt",
		protocol.TabChangePayload{ActiveTab: "products"})
	require.NoError(t, err)
	require.NoError(t, operator.Publish(topic, env))

	for name, ch := range map[string]chan *protocol.Envelope{"operator": opRecv, "counterpart": cpRecv} {
		select {
		case got := <-ch:
			assert.Equal(t, protocol.TypeTabChange, got.Type)
			assert.Equal(t, "sess-rt", got.SessionID)
			var p protocol.TabChangePayload
			require.NoError(t, got.DecodeData(&p))
			assert.Equal(t, "products", p.ActiveTab)
		case <-time.After(3 * time.Second):
			t.Fatalf("%s did not receive the envelope", name)
		}
	}
}

// TestPublishWhileDisconnected 끊긴 상태의 발행은 타입 있는 오류로 조용히
// 실패한다
func TestPublishWhileDisconnected(t *testing.T) {
	c := NewConn(quickConfig("ws://127.0.0.1:1/ws"))

	env, err := protocol.NewEnvelope(protocol.TypeFieldInputSync, "sess-x",
		protocol.FieldPayload{FieldID: "amount", Value: "100", Version: 1})
	require.NoError(t, err)

	err = c.Publish(protocol.SessionTopic("sess-x"), env)
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "publish", terr.Op)
	assert.ErrorIs(t, err, ErrNotConnected)
}

// TestTopicIsolation 다른 세션 토픽의 구독자에게는 봉투가 가지 않는다
func TestTopicIsolation(t *testing.T) {
	srv, url := startRelay(t, 18102)

	a := NewConn(quickConfig(url))
	b := NewConn(quickConfig(url))
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, b.Connect(context.Background()))
	defer a.Disconnect()
	defer b.Disconnect()

	otherRecv := make(chan *protocol.Envelope, 1)
	_, err := b.Subscribe(protocol.SessionTopic("sess-other"), func(env *protocol.Envelope) {
		otherRecv <- env
	})
	require.NoError(t, err)
	_, err = a.Subscribe(protocol.SessionTopic("sess-mine"), func(env *protocol.Envelope) {})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.SubscriberCount(protocol.SessionTopic("sess-mine")) == 1 &&
			srv.SubscriberCount(protocol.SessionTopic("sess-other")) == 1
	}, 3*time.Second, 20*time.Millisecond)

	env, err := protocol.NewEnvelope(protocol.TypeFieldFocus, "sess-mine",
		protocol.FieldPayload{FieldID: "name"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(protocol.SessionTopic("sess-mine"), env))

	select {
	case got := <-otherRecv:
		t.Fatalf("envelope leaked across session topics: %v", got.Type)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestReconnectResubscribes 강제 절단 후 자동 재연결되고, 기존 토픽
// 구독이 복원되어 메시지가 다시 흐른다
func TestReconnectResubscribes(t *testing.T) {
	srv, url := startRelay(t, 18103)
	topic := protocol.SessionTopic("sess-rc")

	c := NewConn(quickConfig(url))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	recv := make(chan *protocol.Envelope, 4)
	_, err := c.Subscribe(topic, func(env *protocol.Envelope) { recv <- env })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 1
	}, 3*time.Second, 20*time.Millisecond)

	srv.ForceDisconnectAll()

	require.Eventually(t, func() bool {
		return c.Reconnects() >= 1 && c.State() == StateConnected
	}, 10*time.Second, 50*time.Millisecond)

	// 재구독이 릴레이에 반영된 뒤 발행해 본다
	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 1
	}, 3*time.Second, 20*time.Millisecond)

	env, err := protocol.NewEnvelope(protocol.TypeScreenHighlight, "sess-rc",
		protocol.HighlightPayload{TargetID: "rate_table"})
	require.NoError(t, err)
	require.NoError(t, c.Publish(topic, env))

	select {
	case got := <-recv:
		assert.Equal(t, protocol.TypeScreenHighlight, got.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("envelope did not flow after reconnect")
	}
}

// TestDisconnectIsTerminal Disconnect 이후의 조작은 실패한다
func TestDisconnectIsTerminal(t *testing.T) {
	_, url := startRelay(t, 18104)

	c := NewConn(quickConfig(url))
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())

	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.Connected())

	_, err := c.Subscribe("consult:any", func(env *protocol.Envelope) {})
	assert.ErrorIs(t, err, ErrClosed)

	env, encErr := protocol.NewEnvelope(protocol.TypeSessionJoin, "sess-z", nil)
	require.NoError(t, encErr)
	assert.ErrorIs(t, c.Publish("consult:any", env), ErrNotConnected)
}

// TestSubscriptionUnsubscribe 마지막 구독 해제 후에는 봉투가 오지 않는다
func TestSubscriptionUnsubscribe(t *testing.T) {
	srv, url := startRelay(t, 18105)
	topic := protocol.SessionTopic("sess-us")

	c := NewConn(quickConfig(url))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	recv := make(chan *protocol.Envelope, 1)
	sub, err := c.Subscribe(topic, func(env *protocol.Envelope) { recv <- env })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 1
	}, 3*time.Second, 20*time.Millisecond)

	sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 0
	}, 3*time.Second, 20*time.Millisecond)

	env, err := protocol.NewEnvelope(protocol.TypeTabChange, "sess-us",
		protocol.TabChangePayload{ActiveTab: "calculator"})
	require.NoError(t, err)
	require.NoError(t, c.Publish(topic, env))

	select {
	case <-recv:
		t.Fatal("received envelope after unsubscribe")
	case <-time.After(300 * time.Millisecond):
	}
}
