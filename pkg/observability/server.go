package observability

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Server provides HTTP endpoints for observability
type Server struct {
	addr string

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer creates a new observability server listening on addr
func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
	}
}

// Handler returns the mux serving health and metrics endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler())

	mux.Handle("/metrics", MetricsHandler())

	return mux
}

// Start starts the observability server. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
