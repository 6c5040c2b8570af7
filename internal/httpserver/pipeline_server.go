package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"ConsultSync/internal/protocol"
)

// PipelineFunc 추천 파이프라인 구현. 실제 배포에서는 외부 추천 백엔드를
// 호출하는 구현이 주입되고, 테스트/데모에서는 고정 응답 구현이 쓰인다.
type PipelineFunc func(customerID, voiceText string) (*protocol.RecommendationResultPayload, error)

// PipelineRequest 추천 요청 본문
type PipelineRequest struct {
	CustomerID string `json:"customerId"`
	VoiceText  string `json:"voiceText"`
}

// PipelineResponse 추천 응답 본문
type PipelineResponse struct {
	Recommendations []protocol.Product `json:"recommendations"`
	IntentAnalysis  IntentAnalysis     `json:"intentAnalysis"`
	Confidence      float64            `json:"confidence"`
}

// IntentAnalysis 의도 분석 결과
type IntentAnalysis struct {
	Intent string `json:"intent"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// PipelineServer 추천 파이프라인 폴백 HTTP 엔드포인트.
// 실시간 채널이 죽어 있어도 추천 요청이 응답을 받을 수 있게 하는
// 두 번째 전달 경로다.
type PipelineServer struct {
	router   *mux.Router
	server   *http.Server
	pipeline PipelineFunc

	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
}

// NewPipelineServer 새 파이프라인 서버 생성
func NewPipelineServer(addr string, pipeline PipelineFunc) *PipelineServer {
	if pipeline == nil {
		pipeline = DefaultPipeline
	}

	s := &PipelineServer{
		router:    mux.NewRouter(),
		pipeline:  pipeline,
		startTime: time.Now(),
	}

	s.setupRoutes()

	// 브라우저 쪽 상담 화면이 직접 호출하므로 CORS를 연다
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *PipelineServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/recommendations/pipeline", s.pipelineHandler).Methods("POST")

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/stats", s.statsHandler).Methods("GET")
}

func (s *PipelineServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// pipelineHandler POST /api/recommendations/pipeline
func (s *PipelineServer) pipelineHandler(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)

	var req PipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		s.writeError(w, http.StatusBadRequest, "customerId is required")
		return
	}

	result, err := s.pipeline(req.CustomerID, req.VoiceText)
	if err != nil {
		log.Printf("pipeline failed for customer %s: %v", req.CustomerID, err)
		s.writeError(w, http.StatusInternalServerError, "recommendation pipeline failed")
		return
	}

	s.writeJSON(w, http.StatusOK, PipelineResponse{
		Recommendations: result.Recommendations,
		IntentAnalysis:  IntentAnalysis{Intent: result.Intent},
		Confidence:      result.Confidence,
	})
}

func (s *PipelineServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *PipelineServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"requests":       s.requestCount.Load(),
		"errors":         s.errorCount.Load(),
	})
}

func (s *PipelineServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response failed: %v", err)
	}
}

func (s *PipelineServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// Start 서버 시작（블로킹 없음）
func (s *PipelineServer) Start() error {
	log.Printf("Starting recommendation pipeline server on %s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Pipeline server error: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop 서버 종료
func (s *PipelineServer) Stop() error {
	return s.server.Close()
}

// DefaultPipeline 외부 추천 백엔드가 없을 때의 고정 응답 구현
func DefaultPipeline(customerID, voiceText string) (*protocol.RecommendationResultPayload, error) {
	return &protocol.RecommendationResultPayload{
		Recommendations: []protocol.Product{
			{ProductID: "DEP-001", Name: "정기예금 기본형", Category: "deposit", BaseRate: 3.2},
			{ProductID: "SAV-002", Name: "자유적금 플러스", Category: "savings", BaseRate: 3.8},
		},
		Intent:     "상품추천",
		Confidence: 0.8,
	}, nil
}
