package transport

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"ConsultSync/internal/protocol"
)

// ConnState 연결 상태
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MessageHandler 토픽에서 수신한 봉투 처리기
type MessageHandler func(env *protocol.Envelope)

// StateChangeHandler 상태 변화 처리기
type StateChangeHandler func(oldState, newState ConnState)

// ConnConfig 연결 설정
type ConnConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	ReconnectDelay    time.Duration // 고정 재연결 지연, 재시도 횟수 제한 없음
	WriteTimeout      time.Duration
	EnableCompression bool
	UserAgent         string
}

// DefaultConnConfig 기본 설정
func DefaultConnConfig(url string) *ConnConfig {
	return &ConnConfig{
		URL:               url,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		PingTimeout:       45 * time.Second,
		ReconnectDelay:    2 * time.Second,
		WriteTimeout:      5 * time.Second,
		EnableCompression: true,
		UserAgent:         "ConsultSync/1.0",
	}
}

// Subscription 활성 구독 핸들
type Subscription struct {
	conn    *Conn
	topic   string
	id      int64
	handler MessageHandler
}

// Topic 구독 중인 토픽 이름
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe 구독 해제. 같은 토픽의 마지막 구독이 해제되면
// 릴레이에도 unsubscribe 프레임을 보낸다.
func (s *Subscription) Unsubscribe() {
	s.conn.unsubscribe(s)
}

// Conn 릴레이에 대한 논리적 실시간 연결.
// 자동 재연결, 양방향 하트비트, 재연결 후 토픽 재구독을 처리한다.
// 전달은 연결 단위 at-most-once이며 재연결을 거치면 순서가 보장되지
// 않으므로 구독 핸들러는 중복과 순서 뒤바뀜에 안전해야 한다.
type Conn struct {
	config *ConnConfig
	dialer *websocket.Dialer
	ws     *websocket.Conn
	state  atomic.Int32

	onStateChange StateChangeHandler

	// 구독 테이블: topic -> subscription id -> handler
	subMu  sync.RWMutex
	subs   map[string]map[int64]*Subscription
	subSeq atomic.Int64

	mu            sync.RWMutex
	writeMu       sync.Mutex // WebSocket 쓰기 직렬화 전용
	stopChan      chan struct{}
	reconnectChan chan struct{}
	closeOnce     sync.Once

	lastHeartbeatAck atomic.Int64 // unix nano
	heartbeatSeq     atomic.Int64

	reconnects atomic.Int32
}

// NewConn 새 연결 핸들 생성. Connect 전에는 어떤 I/O도 하지 않는다.
func NewConn(config *ConnConfig) *Conn {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout
	dialer.EnableCompression = config.EnableCompression

	c := &Conn{
		config:        config,
		dialer:        &dialer,
		subs:          make(map[string]map[int64]*Subscription),
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// SetStateChangeHandler 상태 변화 처리기 등록
func (c *Conn) SetStateChangeHandler(handler StateChangeHandler) {
	c.onStateChange = handler
}

// Connect 릴레이에 연결하고 백그라운드 루프를 시작한다
func (c *Conn) Connect(ctx context.Context) error {
	if !c.compareAndSwapState(StateDisconnected, StateConnecting) {
		return &TransportError{Op: "connect", Err: ErrNotConnected}
	}

	if err := c.doConnect(ctx); err != nil {
		c.setState(StateDisconnected)
		return &TransportError{Op: "connect", Err: err}
	}

	c.setState(StateConnected)
	c.lastHeartbeatAck.Store(time.Now().UnixNano())

	go c.heartbeatLoop()
	go c.readLoop()
	go c.reconnectLoop()

	return nil
}

func (c *Conn) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	// 재연결 포함, 활성 토픽을 모두 다시 구독한다
	return c.resubscribeAll()
}

func (c *Conn) resubscribeAll() error {
	c.subMu.RLock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subMu.RUnlock()

	for _, topic := range topics {
		if err := c.writeFrame(&protocol.Frame{Op: protocol.OpSubscribe, Topic: topic}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 토픽을 구독하고 수신 봉투마다 handler를 호출한다.
// 같은 토픽에 여러 구독이 공존할 수 있다.
func (c *Conn) Subscribe(topic string, handler MessageHandler) (*Subscription, error) {
	if handler == nil {
		return nil, &TransportError{Op: "subscribe", Topic: topic, Err: ErrInvalidHandler}
	}
	if c.State() == StateClosed {
		return nil, &TransportError{Op: "subscribe", Topic: topic, Err: ErrClosed}
	}

	sub := &Subscription{
		conn:    c,
		topic:   topic,
		id:      c.subSeq.Add(1),
		handler: handler,
	}

	c.subMu.Lock()
	first := len(c.subs[topic]) == 0
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int64]*Subscription)
	}
	c.subs[topic][sub.id] = sub
	c.subMu.Unlock()

	// 첫 구독일 때만 릴레이에 알린다. 끊긴 상태라면 재연결 시
	// resubscribeAll이 처리하므로 쓰기 실패는 치명적이지 않다.
	if first && c.State() == StateConnected {
		if err := c.writeFrame(&protocol.Frame{Op: protocol.OpSubscribe, Topic: topic}); err != nil {
			log.Printf("subscribe frame for %s deferred to reconnect: %v", topic, err)
		}
	}

	return sub, nil
}

func (c *Conn) unsubscribe(sub *Subscription) {
	c.subMu.Lock()
	if m, ok := c.subs[sub.topic]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(c.subs, sub.topic)
		}
	}
	last := len(c.subs[sub.topic]) == 0
	c.subMu.Unlock()

	if last && c.State() == StateConnected {
		if err := c.writeFrame(&protocol.Frame{Op: protocol.OpUnsubscribe, Topic: sub.topic}); err != nil {
			log.Printf("unsubscribe frame for %s dropped: %v", sub.topic, err)
		}
	}
}

// Publish 봉투를 토픽에 발행한다. 끊긴 상태의 발행은 조용히 실패하며
// 타입 있는 오류로만 보고된다 — 예외처럼 전파되지 않는다.
func (c *Conn) Publish(topic string, env *protocol.Envelope) error {
	if c.State() != StateConnected {
		return &TransportError{Op: "publish", Topic: topic, Err: ErrNotConnected}
	}

	frame, err := protocol.PublishFrame(topic, env)
	if err != nil {
		return &TransportError{Op: "publish", Topic: topic, Err: err}
	}
	if err := c.writeFrame(frame); err != nil {
		return &TransportError{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// Connected 발행 가능한 상태인지 여부
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Disconnect 연결을 닫는다. 이후의 모든 조작은 ErrClosed로 실패한다.
func (c *Conn) Disconnect() error {
	if !c.compareAndSwapState(StateConnected, StateClosed) &&
		!c.compareAndSwapState(StateReconnecting, StateClosed) &&
		!c.compareAndSwapState(StateConnecting, StateClosed) &&
		!c.compareAndSwapState(StateDisconnected, StateClosed) {
		return nil // 이미 닫힘
	}

	c.closeOnce.Do(func() {
		close(c.stopChan)
	})

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

func (c *Conn) writeFrame(f *protocol.Frame) error {
	raw, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}

	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

// heartbeatLoop 주기적으로 하트비트를 보내고 응답 시한을 감시한다
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			seq := c.heartbeatSeq.Add(1)
			if err := c.writeFrame(&protocol.Frame{Op: protocol.OpHeartbeat, Seq: seq}); err != nil {
				log.Printf("send heartbeat failed: %v", err)
				c.triggerReconnect()
				continue
			}
			last := time.Unix(0, c.lastHeartbeatAck.Load())
			if time.Since(last) > c.config.PingTimeout {
				log.Printf("heartbeat ack timeout, triggering reconnect")
				c.triggerReconnect()
			}
		}
	}
}

// readLoop 수신 프레임을 구독 핸들러로 전달한다
func (c *Conn) readLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if c.State() != StateConnected {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		_, raw, err := ws.ReadMessage()
		if err != nil {
			if c.State() == StateClosed {
				return
			}
			log.Printf("read frame failed: %v", err)
			c.triggerReconnect()
			continue
		}

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			// 잘못된 프레임 하나가 읽기 루프를 무너뜨려서는 안 된다
			log.Printf("drop malformed frame: %v", err)
			continue
		}

		c.handleFrame(frame)
	}
}

func (c *Conn) handleFrame(f *protocol.Frame) {
	switch f.Op {
	case protocol.OpHeartbeatAck:
		c.lastHeartbeatAck.Store(time.Now().UnixNano())
	case protocol.OpHeartbeat:
		// 릴레이 쪽 keep-alive에 응답한다
		if err := c.writeFrame(&protocol.Frame{Op: protocol.OpHeartbeatAck, Seq: f.Seq}); err != nil {
			log.Printf("heartbeat ack failed: %v", err)
		}
	case protocol.OpPublish:
		env, err := protocol.DecodeEnvelope(f.Envelope)
		if err != nil {
			log.Printf("drop malformed envelope on %s: %v", f.Topic, err)
			return
		}
		c.deliver(f.Topic, env)
	default:
		log.Printf("drop unexpected frame op %q", f.Op)
	}
}

func (c *Conn) deliver(topic string, env *protocol.Envelope) {
	c.subMu.RLock()
	handlers := make([]MessageHandler, 0, len(c.subs[topic]))
	for _, sub := range c.subs[topic] {
		handlers = append(handlers, sub.handler)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// reconnectLoop 재연결 신호를 처리한다
func (c *Conn) reconnectLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.doReconnect()
		}
	}
}

func (c *Conn) triggerReconnect() {
	if c.compareAndSwapState(StateConnected, StateReconnecting) {
		select {
		case c.reconnectChan <- struct{}{}:
		default:
		}
	}
}

// doReconnect 고정 지연으로 성공할 때까지 재시도한다.
// 장시간 유지되는 상담 연결이므로 재시도 횟수에 상한을 두지 않는다.
func (c *Conn) doReconnect() {
	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()

	policy := backoff.NewConstantBackOff(c.config.ReconnectDelay)

	attempt := 0
	err := backoff.Retry(func() error {
		select {
		case <-c.stopChan:
			return backoff.Permanent(ErrClosed)
		default:
		}
		attempt++
		log.Printf("reconnecting... (attempt %d)", attempt)
		return c.doConnect(context.Background())
	}, policy)

	if err != nil {
		// Permanent(ErrClosed)로만 빠져나온다
		c.setState(StateClosed)
		return
	}

	log.Printf("reconnected successfully after %d attempts", attempt)
	c.lastHeartbeatAck.Store(time.Now().UnixNano())
	c.setState(StateConnected)
	c.reconnects.Add(1)
}

// State 현재 연결 상태
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Reconnects 재연결 성공 횟수
func (c *Conn) Reconnects() int {
	return int(c.reconnects.Load())
}

func (c *Conn) setState(newState ConnState) {
	oldState := ConnState(c.state.Swap(int32(newState)))
	if oldState != newState && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
}

func (c *Conn) compareAndSwapState(oldState, newState ConnState) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
	return swapped
}

// Stats 연결 통계
func (c *Conn) Stats() map[string]interface{} {
	return map[string]interface{}{
		"state":      c.State().String(),
		"reconnects": c.reconnects.Load(),
	}
}
