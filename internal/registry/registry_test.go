package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsultSync/internal/protocol"
	"ConsultSync/internal/relay"
	"ConsultSync/internal/transport"
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

func dial(t *testing.T, url string) *transport.Conn {
	t.Helper()
	c := transport.NewConn(transport.DefaultConnConfig(url))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	return c
}

// TestJoinPublishesSessionJoin 참여는 세션 토픽에 session-join을 발행한다
func TestJoinPublishesSessionJoin(t *testing.T) {
	srv, url := startRelay(t, 18111)
	topic := protocol.SessionTopic("sess-j")

	watcher := dial(t, url)
	recv := make(chan *protocol.Envelope, 4)
	_, err := watcher.Subscribe(topic, func(env *protocol.Envelope) { recv <- env })
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 1
	}, 3*time.Second, 20*time.Millisecond)

	r := New()
	operator := dial(t, url)
	participantID, err := r.Join(context.Background(), "sess-j", RoleOperator, operator)
	require.NoError(t, err)
	assert.NotEmpty(t, participantID)
	assert.Equal(t, "sess-j", r.SessionID())

	select {
	case env := <-recv:
		assert.Equal(t, protocol.TypeSessionJoin, env.Type)
		var p protocol.SessionJoinPayload
		require.NoError(t, env.DecodeData(&p))
		assert.Equal(t, string(RoleOperator), p.Role)
		assert.Equal(t, participantID, p.ParticipantID)
	case <-time.After(3 * time.Second):
		t.Fatal("session-join did not arrive")
	}
}

// TestRejoinIdempotent 같은 연결의 재참여는 같은 참여자 ID를 돌려준다
func TestRejoinIdempotent(t *testing.T) {
	_, url := startRelay(t, 18112)

	r := New()
	operator := dial(t, url)

	first, err := r.Join(context.Background(), "sess-i", RoleOperator, operator)
	require.NoError(t, err)
	second, err := r.Join(context.Background(), "sess-i", RoleOperator, operator)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// TestRoleSupersede 같은 역할의 새 연결은 이전 핸들을 대체하고 닫는다
func TestRoleSupersede(t *testing.T) {
	_, url := startRelay(t, 18113)

	r := New()
	old := dial(t, url)
	fresh := dial(t, url)

	oldID, err := r.Join(context.Background(), "sess-s", RoleCounterpart, old)
	require.NoError(t, err)
	newID, err := r.Join(context.Background(), "sess-s", RoleCounterpart, fresh)
	require.NoError(t, err)

	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, transport.StateClosed, old.State())

	current, ok := r.Current(RoleCounterpart)
	require.True(t, ok)
	assert.Same(t, fresh, current)
}

// TestMixedSessionRejected 세션이 살아 있는 동안 다른 세션 참여는 거부된다
func TestMixedSessionRejected(t *testing.T) {
	_, url := startRelay(t, 18114)

	r := New()
	operator := dial(t, url)
	other := dial(t, url)

	_, err := r.Join(context.Background(), "sess-a", RoleOperator, operator)
	require.NoError(t, err)

	_, err = r.Join(context.Background(), "sess-b", RoleCounterpart, other)
	assert.ErrorIs(t, err, ErrSessionMixed)
}

// TestInvalidRole 알 수 없는 역할과 빈 세션 ID는 거부된다
func TestInvalidRole(t *testing.T) {
	r := New()

	_, err := r.Join(context.Background(), "sess-x", Role("admin"), nil)
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = r.Join(context.Background(), "", RoleOperator, nil)
	assert.Error(t, err)
}

// TestEndAnnouncesOnceAndDisconnects 종료 공지는 정확히 한 번 나가고,
// 모든 참여 연결이 닫히며 세션 상태가 비워진다
func TestEndAnnouncesOnceAndDisconnects(t *testing.T) {
	srv, url := startRelay(t, 18115)
	topic := protocol.SessionTopic("sess-e")

	watcher := dial(t, url)
	ended := make(chan *protocol.Envelope, 4)
	_, err := watcher.Subscribe(topic, func(env *protocol.Envelope) {
		if env.Type == protocol.TypeConsultationEnded {
			ended <- env
		}
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.SubscriberCount(topic) == 1
	}, 3*time.Second, 20*time.Millisecond)

	r := New()
	operator := dial(t, url)
	counterpart := dial(t, url)
	_, err = r.Join(context.Background(), "sess-e", RoleOperator, operator)
	require.NoError(t, err)
	_, err = r.Join(context.Background(), "sess-e", RoleCounterpart, counterpart)
	require.NoError(t, err)

	require.NoError(t, r.End(context.Background()))

	select {
	case <-ended:
	case <-time.After(3 * time.Second):
		t.Fatal("consultation-ended did not arrive")
	}
	select {
	case <-ended:
		t.Fatal("consultation-ended announced more than once")
	case <-time.After(300 * time.Millisecond):
	}

	assert.Equal(t, transport.StateClosed, operator.State())
	assert.Equal(t, transport.StateClosed, counterpart.State())
	assert.Empty(t, r.SessionID())

	_, ok := r.Current(RoleOperator)
	assert.False(t, ok)

	assert.ErrorIs(t, r.End(context.Background()), ErrNoSession)
}
