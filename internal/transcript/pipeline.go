package transcript

import (
	"context"
	"log"
	"sync"
	"time"

	"ConsultSync/internal/protocol"
	"ConsultSync/internal/recommend"
)

// Publisher 파이프라인이 합성 봉투를 내보내는 데 필요한 발행 능력
type Publisher interface {
	Publish(topic string, env *protocol.Envelope) error
}

// Segment 확정된 음성 인식 단위. 채팅/기록 화면과 명령 감지기가 소비한다.
type Segment struct {
	Text         string       `json:"text"`
	SpeakerLabel SpeakerLabel `json:"speakerLabel"`
	Confidence   float64      `json:"confidence"`
	Timestamp    time.Time    `json:"timestamp"`
}

// SegmentObserver 새 세그먼트 통지
type SegmentObserver func(seg Segment)

// PipelineConfig 파이프라인 설정
type PipelineConfig struct {
	// CommandDelay 연속된 계산기 명령 봉투 사이의 고정 지연.
	// 수신 서식이 필드를 한꺼번에가 아니라 사람이 지켜볼 수 있는
	// 안정된 순서로 채우게 한다.
	CommandDelay time.Duration
}

// DefaultPipelineConfig 기본 설정
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		CommandDelay: 400 * time.Millisecond,
	}
}

// Pipeline 확정 음성 세그먼트를 소비해 화자를 분류하고, 음성 명령을
// 감지해 사용자가 직접 조작한 것과 똑같은 합성 봉투를 채널로 내보낸다.
// 세그먼트 기록은 세션 수명 동안만 메모리에 유지된다.
type Pipeline struct {
	config    *PipelineConfig
	sessionID string
	topic     string
	pub       Publisher
	requester *recommend.Requester

	mu        sync.Mutex
	segments  []Segment
	observers []SegmentObserver
}

// NewPipeline 새 파이프라인 생성
func NewPipeline(config *PipelineConfig, sessionID string, pub Publisher, requester *recommend.Requester) *Pipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	return &Pipeline{
		config:    config,
		sessionID: sessionID,
		topic:     protocol.SessionTopic(sessionID),
		pub:       pub,
		requester: requester,
	}
}

// OnSegment 세그먼트 관찰자 등록
func (p *Pipeline) OnSegment(fn SegmentObserver) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// ProcessFinal 확정된 인식 텍스트 하나를 처리한다.
// 화자 분류 → 기록/발행 → 명령 감지 순서이며, 감지된 명령은 합성
// 봉투가 되어 수동 조작과 같은 경로를 탄다.
func (p *Pipeline) ProcessFinal(ctx context.Context, text string) Segment {
	c := ClassifySpeaker(text)
	seg := Segment{
		Text:         text,
		SpeakerLabel: c.Label,
		Confidence:   c.Confidence,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	p.segments = append(p.segments, seg)
	observers := make([]SegmentObserver, len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(seg)
	}

	env, err := protocol.NewEnvelope(protocol.TypeSTTTranscript, p.sessionID, protocol.TranscriptPayload{
		Text:         seg.Text,
		SpeakerLabel: string(seg.SpeakerLabel),
		Confidence:   seg.Confidence,
	})
	if err == nil {
		err = p.pub.Publish(p.topic, env)
	}
	if err != nil {
		log.Printf("transcript: stt-transcript publish failed: %v", err)
	}

	cmd := DetectCommand(text)
	if cmd == nil {
		return seg
	}

	switch cmd.Kind {
	case KindRecommendation:
		log.Printf("transcript: recommendation command detected: %q", text)
		p.requester.Request(ctx, text)
	case KindCalculator:
		log.Printf("transcript: calculator command detected: %q", text)
		go p.emitCalculator(cmd)
	}

	return seg
}

// emitCalculator 계산기 명령 봉투 시퀀스를 고정 지연 간격으로 내보낸다
func (p *Pipeline) emitCalculator(cmd *Command) {
	p.emit(protocol.TypeCalculatorOpen, nil)

	updates := []protocol.CalculatorUpdatePayload{}
	if cmd.Principal != "" {
		updates = append(updates, protocol.CalculatorUpdatePayload{Field: "principal", Value: cmd.Principal})
	}
	if cmd.Rate != "" {
		updates = append(updates, protocol.CalculatorUpdatePayload{Field: "rate", Value: cmd.Rate})
	}
	if cmd.Period != "" {
		updates = append(updates, protocol.CalculatorUpdatePayload{Field: "period", Value: cmd.Period})
	}
	if cmd.Interest != "" {
		updates = append(updates, protocol.CalculatorUpdatePayload{Field: "interestType", Value: cmd.Interest})
	}

	for _, u := range updates {
		time.Sleep(p.config.CommandDelay)
		p.emit(protocol.TypeCalculatorUpdate, u)
	}
}

func (p *Pipeline) emit(msgType protocol.MessageType, payload interface{}) {
	env, err := protocol.NewEnvelope(msgType, p.sessionID, payload)
	if err == nil {
		err = p.pub.Publish(p.topic, env)
	}
	if err != nil {
		log.Printf("transcript: %s emit failed: %v", msgType, err)
	}
}

// Segments 지금까지의 세그먼트 기록 복사본
func (p *Pipeline) Segments() []Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}
