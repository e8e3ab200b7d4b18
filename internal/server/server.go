// Package server is the HTTP boundary of the game: the websocket endpoint
// players connect to, health probes, Prometheus metrics and the optional MCP
// endpoint, all mounted on one chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/gameweaver/internal/game"
	"github.com/MrWong99/gameweaver/internal/health"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/internal/observe"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultListenAddr   = ":8080"
	DefaultWSPath       = "/ws"
	DefaultReadLimit    = 1 << 20
	DefaultWriteTimeout = 5 * time.Second
)

// Game receives decoded client traffic. *game.Session satisfies it.
type Game interface {
	Handle(ctx context.Context, clientID string, env game.Envelope)
	PushVoiceChunk(chunk []byte) bool
}

// Config tunes a Server.
type Config struct {
	// ListenAddr is host:port. Port 0 picks a free port.
	ListenAddr string

	// PortRetries is how many following ports are tried when the configured
	// one is in use.
	PortRetries int

	// AllowedOrigins are websocket origin patterns accepted besides the
	// request's own host.
	AllowedOrigins []string

	// MCPPath mounts the MCP handler, when one is given.
	MCPPath string

	// ReadLimit caps a single inbound websocket frame in bytes.
	ReadLimit int64

	// WriteTimeout bounds a single outbound websocket frame.
	WriteTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments requests and exposes handler at /metrics.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = handler
	}
}

// WithMCP mounts h at Config.MCPPath.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// Server serves the game over HTTP.
type Server struct {
	cfg            Config
	clients        *hub.Registry
	game           Game
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	mcp            http.Handler

	router  chi.Router
	httpSrv *http.Server
	ln      net.Listener
}

// New builds the router. health may be nil.
func New(cfg Config, clients *hub.Registry, g Game, h *health.Handler, opts ...Option) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MCPPath == "" {
		cfg.MCPPath = "/mcp"
	}
	s := &Server{cfg: cfg, clients: clients, game: g, health: h}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	if s.health != nil {
		s.health.Mount(r)
	}
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}
	if s.mcp != nil {
		r.Handle(s.cfg.MCPPath, s.mcp)
	}
	r.Get(DefaultWSPath, s.handleWS)
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the listen address, moving to the next port while the
// current one is in use, at most PortRetries times.
func (s *Server) Listen() (net.Addr, error) {
	host, portStr, err := net.SplitHostPort(s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen address %q: %w", s.cfg.ListenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("server: listen port %q: %w", portStr, err)
	}

	for attempt := 0; ; attempt++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port+attempt))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			s.ln = ln
			if attempt > 0 {
				slog.Warn("configured port in use, listening on a later one",
					"configured", s.cfg.ListenAddr, "addr", ln.Addr().String())
			}
			return ln.Addr(), nil
		}
		if port == 0 || attempt >= s.cfg.PortRetries || !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("server: listen on %s: %w", addr, err)
		}
	}
}

// Serve listens (when Listen was not called yet) and serves until Shutdown.
// It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if s.ln == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	slog.Info("http server listening", "addr", s.ln.Addr().String())
	if err := s.httpSrv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to finish
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.ln != nil {
		// Listen without Serve leaves the listener untracked by httpSrv.
		if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
			err = cerr
		}
	}
	return err
}
