// Package api exposes the dashboard HTTP surface: pipeline status, audit
// queries, runtime controls, and the SSE event stream.
package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/kenyonj/auto-investor/broker"
	"github.com/kenyonj/auto-investor/database"
	"github.com/kenyonj/auto-investor/notifications"
	"github.com/kenyonj/auto-investor/realtime"
)

// EngineController is the slice of the trading engine the API needs for
// runtime controls. Defined here so the engine can depend on api without a
// cycle.
type EngineController interface {
	RunNow() bool
	ToggleHoldAll() bool
	TogglePauseAI() bool
	HoldAll() bool
	PauseAI() bool
	NextCycleAt() time.Time
	DryRun() bool
}

// Server handles HTTP API requests
type Server struct {
	repo      *database.Repository
	broker    *broker.Client
	events    *realtime.Broker
	webhookMq *notifications.WebhookManager
	engine    EngineController
}

// NewServer creates a new API server instance
func NewServer(repo *database.Repository, brokerClient *broker.Client, events *realtime.Broker, webhookMq *notifications.WebhookManager) *Server {
	return &Server{
		repo:      repo,
		broker:    brokerClient,
		events:    events,
		webhookMq: webhookMq,
	}
}

// SetEngine wires the engine controls after construction.
func (s *Server) SetEngine(engine EngineController) {
	s.engine = engine
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Register routes
	mux.Handle("GET /api/events", s.events) // SSE endpoint
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/portfolio", s.handleGetPortfolio)
	mux.HandleFunc("GET /api/positions", s.handleGetPositions)
	mux.HandleFunc("GET /api/decisions", s.handleGetDecisions)
	mux.HandleFunc("GET /api/executions", s.handleGetExecutions)
	mux.HandleFunc("GET /api/snapshots", s.handleGetSnapshots)
	mux.HandleFunc("GET /api/chart/{symbol...}", s.handleGetChart)

	// Runtime controls
	mux.HandleFunc("POST /api/controls/hold-all", s.handleToggleHoldAll)
	mux.HandleFunc("POST /api/controls/pause-ai", s.handleTogglePauseAI)
	mux.HandleFunc("POST /api/run-now", s.handleRunNow)

	// Webhook management routes
	mux.HandleFunc("GET /api/config/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("POST /api/config/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/config/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/config/webhooks/{id}", s.handleDeleteWebhook)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
