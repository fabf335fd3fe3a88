// Package server is the HTTP API of the dashboard: chart
// aggregations, schema introspection and the chat bridge to the
// external agent.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesm/dashai/internal/agent"
	"github.com/wesm/dashai/internal/config"
	"github.com/wesm/dashai/internal/db"
	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/relay"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server for the dashboard API.
type Server struct {
	mu      sync.RWMutex
	cfg     config.Config
	db      *db.DB
	agent   agent.Runtime
	hub     *relay.Hub
	router  chi.Router
	httpSrv *http.Server
	version VersionInfo

	schemaMu sync.Mutex
	schema   map[string][]db.Column

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server. Without WithRuntime the chat
// endpoints answer 503.
func New(cfg config.Config, database *db.DB, opts ...Option) *Server {
	def := config.Default()
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Agent.Timeout <= 0 {
		cfg.Agent.Timeout = def.Agent.Timeout
	}
	s := &Server{
		cfg:   cfg,
		db:    database,
		agent: agent.Unavailable,
		hub:   relay.NewHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithRuntime sets the agent that answers chat requests. Nil is
// ignored.
func WithRuntime(rt agent.Runtime) Option {
	return func(s *Server) {
		if rt != nil {
			s.agent = rt
		}
	}
}

// WithHub shares a relay hub with the caller.
func WithHub(h *relay.Hub) Option {
	return func(s *Server) {
		if h != nil {
			s.hub = h
		}
	}
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/charts", func(r chi.Router) {
		for name := range charts {
			r.Method(http.MethodGet, "/"+name,
				s.withTimeout(s.handleChart(name)))
		}
		// Export: no timeout handler, it would buffer the file.
		r.Get("/{chart}/export", s.handleExportChart)
	})

	r.Method(http.MethodGet, "/schema", s.withTimeout(s.handleSchema))
	r.Get("/schema-diagram", s.handleSchemaDiagram)

	// Chat runs are bounded by the agent timeout, not the write
	// timeout; the stream is long-lived.
	r.Group(func(r chi.Router) {
		r.Use(s.chatLimiter())
		r.Post("/chat", s.handleChat)
		r.Get("/chat-stream", s.handleChatStream)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/version", s.withTimeout(s.handleGetVersion))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Server.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	addr := s.cfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.httpSrv = srv
	s.mu.Unlock()
	logging.Info().Str("addr", "http://"+addr).Msg("starting server")
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
