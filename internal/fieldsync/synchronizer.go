package fieldsync

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"ConsultSync/internal/protocol"
)

// FieldState 필드별 상태 기계: idle → focused → editing → committed.
// 원격/로컬 이벤트 모두가 전이를 일으킨다.
type FieldState int

const (
	StateIdle FieldState = iota
	StateFocused
	StateEditing
	StateCommitted
)

func (s FieldState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFocused:
		return "FOCUSED"
	case StateEditing:
		return "EDITING"
	case StateCommitted:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

var ErrUnknownField = errors.New("unknown field id")

// Publisher 동기화기가 필요로 하는 발행 능력
type Publisher interface {
	Publish(topic string, env *protocol.Envelope) error
}

// ChangeObserver 필드 맵 변경 통지（렌더링 계층 등）
type ChangeObserver func(fieldID, value string)

// HighlightObserver 일시적 강조 표시 통지. 필드 맵과 무관하다.
type HighlightObserver func(targetID, label string)

type entry struct {
	value   string
	version int64
	state   FieldState
}

// Synchronizer 세션 공유 필드 맵의 단일 소유자.
// 이 맵이 유일한 권위 저장소다 — 전역 편의 복사본은 두지 않으며,
// 모든 변경은 SetLocal / ApplyRemote 두 진입점을 통해서만 일어난다.
// 충돌 정책은 필드별 last-applied-write-wins이고, 봉투마다 실리는
// 단조 증가 version 스탬프로 뒤늦게 도착한 과거 수정을 걸러낸다.
type Synchronizer struct {
	mu        sync.Mutex
	sessionID string
	topic     string
	pub       Publisher
	fields    map[string]*entry

	observers    []ChangeObserver
	highlightObs []HighlightObserver
}

// New 새 동기화기 생성
func New(sessionID string, pub Publisher) *Synchronizer {
	return &Synchronizer{
		sessionID: sessionID,
		topic:     protocol.SessionTopic(sessionID),
		pub:       pub,
		fields:    make(map[string]*entry),
	}
}

// OnChange 맵 변경 관찰자 등록
func (s *Synchronizer) OnChange(fn ChangeObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// OnHighlight 강조 표시 관찰자 등록
func (s *Synchronizer) OnHighlight(fn HighlightObserver) {
	s.mu.Lock()
	s.highlightObs = append(s.highlightObs, fn)
	s.mu.Unlock()
}

// Focus 로컬 포커스 전이를 기록하고 field-focus를 발행한다
func (s *Synchronizer) Focus(fieldID string) error {
	s.mu.Lock()
	e := s.ensure(fieldID)
	e.state = StateFocused
	s.mu.Unlock()

	return s.publishField(protocol.TypeFieldFocus, fieldID, "", 0)
}

// SetLocal 로컬 입력을 맵에 반영하고 field-input-sync를 발행한다.
// 발행 실패는 타입 있는 오류로 반환될 뿐, 로컬 반영은 유지된다
// （채널이 복구되면 다음 수정이 다시 수렴시킨다）.
func (s *Synchronizer) SetLocal(fieldID, value string) error {
	s.mu.Lock()
	e := s.ensure(fieldID)
	e.version++
	e.value = value
	e.state = StateEditing
	version := e.version
	observers := s.snapshotObservers()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(fieldID, value)
	}

	return s.publishField(protocol.TypeFieldInputSync, fieldID, value, version)
}

// Commit 필드 확정 전이를 기록하고 field-input-complete를 발행한다
func (s *Synchronizer) Commit(fieldID string) error {
	s.mu.Lock()
	e, ok := s.fields[fieldID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownField, fieldID)
	}
	e.state = StateCommitted
	value := e.value
	version := e.version
	s.mu.Unlock()

	return s.publishField(protocol.TypeFieldInputComplete, fieldID, value, version)
}

// Highlight 일시적 화면 강조를 발행한다. 권위 필드 맵에는 관여하지 않는다.
func (s *Synchronizer) Highlight(targetID, label string) error {
	env, err := protocol.NewEnvelope(protocol.TypeScreenHighlight, s.sessionID, protocol.HighlightPayload{
		TargetID: targetID,
		Label:    label,
	})
	if err != nil {
		return err
	}
	return s.pub.Publish(s.topic, env)
}

// ApplyRemote 원격 봉투를 맵에 반영한다. 절대 재발행하지 않는다 —
// 자기 발행 봉투가 로컬 구독으로 되돌아와도 메아리 루프가 생기지 않는다.
func (s *Synchronizer) ApplyRemote(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeScreenHighlight:
		var p protocol.HighlightPayload
		if err := env.DecodeData(&p); err != nil {
			log.Printf("fieldsync: drop malformed highlight: %v", err)
			return
		}
		s.mu.Lock()
		obs := make([]HighlightObserver, len(s.highlightObs))
		copy(obs, s.highlightObs)
		s.mu.Unlock()
		for _, fn := range obs {
			fn(p.TargetID, p.Label)
		}
		return

	case protocol.TypeFieldFocus, protocol.TypeFieldInputSync, protocol.TypeFieldInputComplete:
		// 아래에서 처리
	default:
		log.Printf("fieldsync: ignore envelope type %s", env.Type)
		return
	}

	var p protocol.FieldPayload
	if err := env.DecodeData(&p); err != nil {
		log.Printf("fieldsync: drop malformed %s: %v", env.Type, err)
		return
	}
	if p.FieldID == "" {
		log.Printf("fieldsync: drop %s with empty field id", env.Type)
		return
	}

	s.mu.Lock()
	e := s.ensure(p.FieldID)

	if env.Type == protocol.TypeFieldFocus {
		if e.state == StateIdle {
			e.state = StateFocused
		}
		s.mu.Unlock()
		return
	}

	// 버전 스탬프 가드: 이미 반영된 버전보다 오래된 원격 수정은 늦게
	// 도착한 과거 수정이므로 버린다. 같은 버전은 그대로 통과시킨다 —
	// field-input-complete는 직전 sync와 같은 버전을 싣고 오고, 같은
	// 봉투를 두 번 적용해도 맵은 변하지 않는다（멱등）.
	if p.Version != 0 && p.Version < e.version {
		s.mu.Unlock()
		return
	}

	changed := e.value != p.Value
	e.value = p.Value
	if p.Version > e.version {
		e.version = p.Version
	}
	if env.Type == protocol.TypeFieldInputComplete {
		e.state = StateCommitted
	} else {
		e.state = StateEditing
	}
	observers := s.snapshotObservers()
	s.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(p.FieldID, p.Value)
		}
	}
}

// Get 필드 값 조회
func (s *Synchronizer) Get(fieldID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.fields[fieldID]
	if !ok {
		return "", false
	}
	return e.value, true
}

// StateOf 필드의 현재 상태
func (s *Synchronizer) StateOf(fieldID string) FieldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.fields[fieldID]
	if !ok {
		return StateIdle
	}
	return e.state
}

// Version 필드의 현재 버전 스탬프
func (s *Synchronizer) Version(fieldID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.fields[fieldID]
	if !ok {
		return 0
	}
	return e.version
}

// Snapshot 필드 맵의 복사본
func (s *Synchronizer) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.fields))
	for id, e := range s.fields {
		out[id] = e.value
	}
	return out
}

// Len 현재 맵의 필드 수
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fields)
}

func (s *Synchronizer) ensure(fieldID string) *entry {
	e, ok := s.fields[fieldID]
	if !ok {
		e = &entry{state: StateIdle}
		s.fields[fieldID] = e
	}
	return e
}

func (s *Synchronizer) snapshotObservers() []ChangeObserver {
	out := make([]ChangeObserver, len(s.observers))
	copy(out, s.observers)
	return out
}

func (s *Synchronizer) publishField(msgType protocol.MessageType, fieldID, value string, version int64) error {
	env, err := protocol.NewEnvelope(msgType, s.sessionID, protocol.FieldPayload{
		FieldID: fieldID,
		Value:   value,
		Version: version,
	})
	if err != nil {
		return err
	}
	return s.pub.Publish(s.topic, env)
}
