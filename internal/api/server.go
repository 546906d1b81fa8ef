// Package api exposes sessions over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aixgo-dev/bookwright/internal/assemble"
	"github.com/aixgo-dev/bookwright/internal/pipeline"
	"github.com/aixgo-dev/bookwright/internal/story"
	"github.com/aixgo-dev/bookwright/pkg/security"
)

// Config configures the HTTP server.
type Config struct {
	Addr    string   `yaml:"addr"`
	APIKeys []string `yaml:"api_keys"`
	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
	Debug     bool    `yaml:"debug"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		RateLimit: 5,
		Burst:     10,
	}
}

// Sessions is the part of the controller the API drives.
type Sessions interface {
	Start(ctx context.Context, opts pipeline.StartOptions) (*pipeline.Outcome, error)
	Resume(ctx context.Context, id, input string) (*pipeline.Outcome, error)
	Status(ctx context.Context, id string) (*story.State, error)
	Documents(ctx context.Context, id string) ([]assemble.Document, error)
}

// Server serves the session API.
type Server struct {
	cfg      Config
	sessions Sessions
	auth     *security.APIKeyAuthenticator
	limiter  *security.RateLimiter
	engine   *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer builds the router for sessions.
func NewServer(cfg Config, sessions Sessions) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		auth:     security.NewAPIKeyAuthenticator(cfg.APIKeys...),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = security.NewRateLimiter(cfg.RateLimit, burst)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), metricsMiddleware())

	v1 := r.Group("/v1")
	v1.Use(s.authMiddleware(), s.rateLimitMiddleware())
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", s.startSession)
		sessions.GET("/:id", s.getSession)
		sessions.POST("/:id/input", s.resumeSession)
		sessions.GET("/:id/documents", s.getDocuments)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and blocks until the server
// stops. Start after Shutdown returns immediately.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	if !s.auth.Enabled() {
		log.Printf("[api] no API keys configured, authentication disabled")
	}
	log.Printf("[api] listening on %s", s.cfg.Addr)

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
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
