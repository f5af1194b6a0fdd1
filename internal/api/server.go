package api

import (
	"context"
	"net/http"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/httputil"
	"github.com/RebootGod/catalogsync/internal/models"
	"github.com/RebootGod/catalogsync/internal/version"
)

// Enqueuer hands a validated request to the worker queue.
type Enqueuer interface {
	EnqueueSync(ctx context.Context, req bulksync.Request) (string, error)
}

type HistoryLister interface {
	ListRecent(ctx context.Context, limit int) ([]*models.JobRecord, error)
}

type Deps struct {
	Tracker          *bulksync.Tracker
	Enqueuer         Enqueuer
	History          HistoryLister
	Hub              *WSHub
	Metrics          http.Handler
	DefaultBatchSize int
}

type Server struct {
	tracker          *bulksync.Tracker
	enqueuer         Enqueuer
	history          HistoryLister
	wsHub            *WSHub
	metrics          http.Handler
	defaultBatchSize int
	router           *http.ServeMux
}

func NewServer(d Deps) *Server {
	if d.Hub == nil {
		d.Hub = NewWSHub()
	}
	if d.DefaultBatchSize < 1 {
		d.DefaultBatchSize = bulksync.DefaultBatchSize
	}
	s := &Server{
		tracker:          d.Tracker,
		enqueuer:         d.Enqueuer,
		history:          d.History,
		wsHub:            d.Hub,
		metrics:          d.Metrics,
		defaultBatchSize: d.DefaultBatchSize,
		router:           http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}

	s.router.HandleFunc("POST /api/v1/sync", s.handleSubmitSync)
	s.router.HandleFunc("GET /api/v1/sync/history", s.handleSyncHistory)
	s.router.HandleFunc("GET /api/v1/sync/{key}", s.handleGetSync)
	s.router.HandleFunc("DELETE /api/v1/sync/{key}", s.handleCancelSync)

	s.router.HandleFunc("GET /api/v1/ws", s.handleWebSocket)
}

// Handler returns the router wrapped with the global middleware.
func (s *Server) Handler() http.Handler {
	return securityHeadersMiddleware(corsMiddleware(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Load().Version,
	})
}

// securityHeadersMiddleware adds standard security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
