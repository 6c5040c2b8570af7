package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ConsultSync/internal/protocol"
	"ConsultSync/internal/transport"
)

// Role 세션 참여자의 역할
type Role string

const (
	RoleOperator    Role = "operator"    // 상담을 이끄는 운영자 콘솔
	RoleCounterpart Role = "counterpart" // 고객 쪽 표시 화면
)

// IsValid 역할 유효성 확인
func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleCounterpart
}

var (
	ErrInvalidRole  = errors.New("invalid participant role")
	ErrNoSession    = errors.New("no active session")
	ErrSessionMixed = errors.New("join for a different session while one is active")
)

// Participant 역할 하나에 대한 연결 장부
type Participant struct {
	ID       string
	Conn     *transport.Conn
	JoinedAt time.Time
}

// Registry 활성 세션 ID와 역할별 연결 핸들의 장부.
// 처리기 로직은 두지 않는다 — 디스패처가 참조하는 신원/연결 기록일 뿐이다.
// 물리적 짝 하나당 세션 하나가 원칙이다.
type Registry struct {
	mu           sync.RWMutex
	sessionID    string
	createdAt    time.Time
	participants map[Role]*Participant
}

// New 새 레지스트리 생성
func New() *Registry {
	return &Registry{
		participants: make(map[Role]*Participant),
	}
}

// Join 세션에 역할로 참여한다. session-join 봉투를 세션 토픽에 발행하고
// 연결을 역할 밑에 저장한다. 같은 세션에 대한 재참여는 멱등이며, 같은
// 역할의 새 참여는 이전 핸들을 대체한다（역할당 활성 연결은 최대 하나）.
func (r *Registry) Join(ctx context.Context, sessionID string, role Role, conn *transport.Conn) (string, error) {
	if !role.IsValid() {
		return "", ErrInvalidRole
	}
	if sessionID == "" {
		return "", fmt.Errorf("join: empty session id")
	}

	r.mu.Lock()
	if r.sessionID != "" && r.sessionID != sessionID {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: active=%s, joining=%s", ErrSessionMixed, r.sessionID, sessionID)
	}

	if prev, ok := r.participants[role]; ok {
		if prev.Conn == conn {
			// 같은 연결의 재참여는 멱등
			participantID := prev.ID
			r.mu.Unlock()
			return participantID, nil
		}
		// 새 참여가 이전 핸들을 대체한다
		log.Printf("superseding %s connection for session %s", role, sessionID)
		if err := prev.Conn.Disconnect(); err != nil {
			log.Printf("disconnect superseded %s handle: %v", role, err)
		}
	}

	participantID := fmt.Sprintf("%s-%s", role, uuid.NewString())
	if r.sessionID == "" {
		r.sessionID = sessionID
		r.createdAt = time.Now()
	}
	r.participants[role] = &Participant{
		ID:       participantID,
		Conn:     conn,
		JoinedAt: time.Now(),
	}
	r.mu.Unlock()

	env, err := protocol.NewEnvelope(protocol.TypeSessionJoin, sessionID, protocol.SessionJoinPayload{
		Role:          string(role),
		ParticipantID: participantID,
	})
	if err != nil {
		return "", err
	}
	if err := conn.Publish(protocol.SessionTopic(sessionID), env); err != nil {
		// 발행 실패는 참여를 무효화하지 않는다. 재연결 후
		// session-join을 다시 발행하면 세션은 복구된다.
		log.Printf("session-join publish deferred: %v", err)
	}

	return participantID, nil
}

// Current 역할의 활성 연결. 없으면 두 번째 반환값이 false.
func (r *Registry) Current(role Role) (*transport.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[role]
	if !ok {
		return nil, false
	}
	return p.Conn, true
}

// ParticipantID 역할의 참여자 ID
func (r *Registry) ParticipantID(role Role) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[role]
	if !ok {
		return "", false
	}
	return p.ID, true
}

// SessionID 현재 세션 ID（없으면 빈 문자열）
func (r *Registry) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

// CreatedAt 세션 생성 시각
func (r *Registry) CreatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.createdAt
}

// Topic 현재 세션의 토픽 이름
func (r *Registry) Topic() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sessionID == "" {
		return "", ErrNoSession
	}
	return protocol.SessionTopic(r.sessionID), nil
}

// End 상담 종료. consultation-ended를 발행하고 모든 연결을 닫은 뒤
// 세션 상태를 비운다.
func (r *Registry) End(ctx context.Context) error {
	r.mu.Lock()
	sessionID := r.sessionID
	parts := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		parts = append(parts, p)
	}
	r.sessionID = ""
	r.createdAt = time.Time{}
	r.participants = make(map[Role]*Participant)
	r.mu.Unlock()

	if sessionID == "" {
		return ErrNoSession
	}

	env, err := protocol.NewEnvelope(protocol.TypeConsultationEnded, sessionID, nil)
	if err != nil {
		return err
	}

	// 종료 공지는 한 번이면 된다. 살아 있는 첫 연결로 발행한다.
	topic := protocol.SessionTopic(sessionID)
	announced := false
	for _, p := range parts {
		if !announced {
			if err := p.Conn.Publish(topic, env); err != nil {
				log.Printf("consultation-ended publish on %s failed: %v", p.ID, err)
			} else {
				announced = true
			}
		}
		if err := p.Conn.Disconnect(); err != nil {
			log.Printf("disconnect %s failed: %v", p.ID, err)
		}
	}

	log.Printf("consultation session %s ended", sessionID)
	return nil
}
