package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ConsultSync/internal/protocol"
)

// ServerConfig 릴레이 서버 설정
type ServerConfig struct {
	Addr              string
	MaxConnections    int
	KeepAliveInterval time.Duration // 서버 → 클라이언트 하트비트 주기
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
}

// DefaultServerConfig 기본 설정
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:              addr,
		MaxConnections:    64,
		KeepAliveInterval: 15 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
	}
}

// ConnStats 연결 통계
type ConnStats struct {
	ConnectedAt    time.Time
	FramesReceived atomic.Uint64
	FramesSent     atomic.Uint64
	LastActivity   atomic.Int64 // unix nano
}

// client 릴레이에 붙은 하나의 WebSocket 연결
type client struct {
	id    string
	ws    *websocket.Conn
	stats *ConnStats

	writeMu   sync.Mutex
	stopChan  chan struct{}
	closeOnce sync.Once
}

func (c *client) safeStop() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
}

func (c *client) writeFrame(f *protocol.Frame) error {
	raw, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}
	c.stats.FramesSent.Add(1)
	return nil
}

// Server 세션 범위 토픽에 대한 발행/구독 릴레이.
// publish 프레임을 같은 토픽의 모든 구독자에게（발행자 포함）그대로
// 중계한다. 자기 수신의 수렴 처리는 구독자 쪽 책임이다.
type Server struct {
	config   *ServerConfig
	server   *http.Server
	upgrader websocket.Upgrader

	// 연결과 토픽 관리
	clients   sync.Map // map[string]*client
	connCount atomic.Int32
	topicMu   sync.RWMutex
	topics    map[string]map[string]*client // topic -> client id -> client

	connWg sync.WaitGroup
	bgWg   sync.WaitGroup
	stopCh chan struct{}

	isRunning atomic.Bool

	totalConnections atomic.Uint64
	totalPublishes   atomic.Uint64
	startTime        time.Time
}

// New 새 릴레이 서버 생성
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig(":8090")
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true // 세션 ID가 접근 단위, 출처 제한 없음
			},
		},
		topics:    make(map[string]map[string]*client),
		stopCh:    make(chan struct{}),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: mux,
	}

	return s
}

// Start 서버 시작
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("relay server is already running")
	}

	log.Printf("Starting relay server on %s", s.config.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Relay server error: %v", err)
		}
	}()

	// 리스너가 올라올 시간을 준다
	time.Sleep(100 * time.Millisecond)

	s.bgWg.Add(1)
	go s.keepAliveLoop()

	return nil
}

// Shutdown 서버 종료
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	log.Printf("Shutting down relay server...")

	close(s.stopCh)

	s.clients.Range(func(key, value interface{}) bool {
		s.closeClient(value.(*client), "server shutdown")
		return true
	})

	s.connWg.Wait()
	s.bgWg.Wait()

	return s.server.Shutdown(ctx)
}

// ForceDisconnectAll 모든 연결 강제 종료（재연결 테스트용）
func (s *Server) ForceDisconnectAll() {
	log.Printf("Force disconnecting all relay connections")
	s.clients.Range(func(key, value interface{}) bool {
		s.closeClient(value.(*client), "force disconnect")
		return true
	})
}

// handleWebSocket WebSocket 업그레이드와 연결 수명주기 처리
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connCount.Load() >= int32(s.config.MaxConnections) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	id := fmt.Sprintf("conn_%d_%d", time.Now().UnixNano(), s.totalConnections.Add(1))
	cl := &client{
		id:       id,
		ws:       ws,
		stats:    &ConnStats{ConnectedAt: time.Now()},
		stopChan: make(chan struct{}),
	}
	cl.stats.LastActivity.Store(time.Now().UnixNano())

	s.clients.Store(id, cl)
	s.connCount.Add(1)

	log.Printf("New relay connection: %s from %s", id, r.RemoteAddr)

	s.connWg.Add(1)
	go func() {
		defer s.connWg.Done()
		s.readLoop(cl)
		s.closeClient(cl, "connection ended")
	}()
}

// readLoop 클라이언트 프레임 수신 루프
func (s *Server) readLoop(cl *client) {
	for {
		select {
		case <-cl.stopChan:
			return
		case <-s.stopCh:
			return
		default:
		}

		_, raw, err := cl.ws.ReadMessage()
		if err != nil {
			return
		}

		cl.stats.FramesReceived.Add(1)
		cl.stats.LastActivity.Store(time.Now().UnixNano())

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			// 깨진 프레임 하나 때문에 연결을 죽이지 않는다
			log.Printf("drop malformed frame from %s: %v", cl.id, err)
			continue
		}

		s.handleFrame(cl, frame)
	}
}

func (s *Server) handleFrame(cl *client, f *protocol.Frame) {
	switch f.Op {
	case protocol.OpSubscribe:
		s.subscribe(cl, f.Topic)
	case protocol.OpUnsubscribe:
		s.unsubscribe(cl, f.Topic)
	case protocol.OpPublish:
		s.broadcast(cl, f)
	case protocol.OpHeartbeat:
		if err := cl.writeFrame(&protocol.Frame{Op: protocol.OpHeartbeatAck, Seq: f.Seq}); err != nil {
			log.Printf("heartbeat ack to %s failed: %v", cl.id, err)
		}
	case protocol.OpHeartbeatAck:
		// 서버 keep-alive에 대한 응답, 활동 시각만 갱신
	default:
		log.Printf("drop unknown frame op %q from %s", f.Op, cl.id)
	}
}

func (s *Server) subscribe(cl *client, topic string) {
	if topic == "" {
		return
	}
	s.topicMu.Lock()
	if s.topics[topic] == nil {
		s.topics[topic] = make(map[string]*client)
	}
	s.topics[topic][cl.id] = cl
	s.topicMu.Unlock()
	log.Printf("%s subscribed to %s", cl.id, topic)
}

func (s *Server) unsubscribe(cl *client, topic string) {
	s.topicMu.Lock()
	if m, ok := s.topics[topic]; ok {
		delete(m, cl.id)
		if len(m) == 0 {
			delete(s.topics, topic)
		}
	}
	s.topicMu.Unlock()
}

// broadcast publish 프레임을 토픽 구독자 전원에게 중계
func (s *Server) broadcast(from *client, f *protocol.Frame) {
	s.totalPublishes.Add(1)

	s.topicMu.RLock()
	targets := make([]*client, 0, len(s.topics[f.Topic]))
	for _, cl := range s.topics[f.Topic] {
		targets = append(targets, cl)
	}
	s.topicMu.RUnlock()

	for _, cl := range targets {
		if err := cl.writeFrame(f); err != nil {
			log.Printf("relay to %s failed: %v", cl.id, err)
		}
	}
}

// keepAliveLoop 서버 → 클라이언트 방향 하트비트
func (s *Server) keepAliveLoop() {
	defer s.bgWg.Done()

	ticker := time.NewTicker(s.config.KeepAliveInterval)
	defer ticker.Stop()

	seq := int64(0)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			seq++
			s.clients.Range(func(key, value interface{}) bool {
				cl := value.(*client)
				if err := cl.writeFrame(&protocol.Frame{Op: protocol.OpHeartbeat, Seq: seq}); err != nil {
					s.closeClient(cl, "keep-alive write failed")
				}
				return true
			})
		}
	}
}

func (s *Server) closeClient(cl *client, reason string) {
	if _, loaded := s.clients.LoadAndDelete(cl.id); !loaded {
		return
	}
	cl.safeStop()
	cl.ws.Close()
	s.connCount.Add(-1)

	// 모든 토픽에서 제거
	s.topicMu.Lock()
	for topic, m := range s.topics {
		delete(m, cl.id)
		if len(m) == 0 {
			delete(s.topics, topic)
		}
	}
	s.topicMu.Unlock()

	log.Printf("Closed relay connection %s: %s", cl.id, reason)
}

// SubscriberCount 토픽의 현재 구독자 수（테스트 보조）
func (s *Server) SubscriberCount(topic string) int {
	s.topicMu.RLock()
	defer s.topicMu.RUnlock()
	return len(s.topics[topic])
}

// handleStats 운영 확인용 통계 엔드포인트
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.topicMu.RLock()
	topicCount := len(s.topics)
	s.topicMu.RUnlock()

	stats := map[string]interface{}{
		"uptime_seconds":    time.Since(s.startTime).Seconds(),
		"connections":       s.connCount.Load(),
		"total_connections": s.totalConnections.Load(),
		"total_publishes":   s.totalPublishes.Load(),
		"topics":            topicCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Printf("write stats failed: %v", err)
	}
}
