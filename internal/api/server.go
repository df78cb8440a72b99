// Package api provides HTTP handlers and the main API server logic for GiftFlow.
//
// It exposes the session endpoints the browser front-end drives (checkout
// wizard navigation, freeform input events, the post-task survey), a
// websocket state stream, and the researcher-facing invitation endpoints.
// The API integrates with the condition, flow, messaging, scheduler, and
// store modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ModalMetrics/GiftFlow/internal/condition"
	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/messaging"
	"github.com/ModalMetrics/GiftFlow/internal/planner"
	"github.com/ModalMetrics/GiftFlow/internal/scheduler"
	"github.com/ModalMetrics/GiftFlow/internal/store"
	"github.com/ModalMetrics/GiftFlow/internal/util"
)

// Default server configuration.
const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultSessionTTL is how long an idle session survives before the
	// sweep evicts it.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSweepSchedule runs the idle-session sweep every 15 minutes.
	DefaultSweepSchedule = "*/15 * * * *"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds computed configuration for the API server.
type Opts struct {
	// Addr is the HTTP listen address.
	Addr string
	// SessionTTL is the idle lifetime of an in-memory session.
	SessionTTL time.Duration
	// SweepSchedule is the cron expression for the idle-session sweep.
	SweepSchedule string
	// ModePlanPath points at the planner-produced per-step mode tables
	// used by Condition C. Empty selects the built-in defaults.
	ModePlanPath string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSessionTTL sets the idle lifetime of in-memory sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithSweepSchedule sets the cron expression for the idle-session sweep.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithModePlan points the server at a planner-produced mode plan file.
func WithModePlan(path string) Option {
	return func(o *Opts) { o.ModePlanPath = path }
}

// Server carries the wired modules behind the HTTP endpoints.
type Server struct {
	addr          string
	sessionTTL    time.Duration
	sweepSchedule string

	st         store.Store
	resolver   *condition.Resolver
	msgService *messaging.Service
	registry   *sessionRegistry
	tables     *flow.ModeTables
	upgrader   websocket.Upgrader
}

// NewServer wires a Server over the given store. Options fall back to
// GIFTFLOW_ADDR, GIFTFLOW_SESSION_TTL, GIFTFLOW_SWEEP_SCHEDULE, and
// GIFTFLOW_MODE_PLAN; msgOpts configure invitation delivery.
func NewServer(st store.Store, msgOpts []messaging.Option, opts ...Option) (*Server, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("GIFTFLOW_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = util.ParseDurationEnv("GIFTFLOW_SESSION_TTL", DefaultSessionTTL)
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = os.Getenv("GIFTFLOW_SWEEP_SCHEDULE")
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.ModePlanPath == "" {
		cfg.ModePlanPath = os.Getenv("GIFTFLOW_MODE_PLAN")
	}

	tables := flow.DefaultModeTables
	if cfg.ModePlanPath != "" {
		t, err := planner.LoadModeTables(cfg.ModePlanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load mode plan: %w", err)
		}
		tables = t
	}

	s := &Server{
		addr:          cfg.Addr,
		sessionTTL:    cfg.SessionTTL,
		sweepSchedule: cfg.SweepSchedule,
		st:            st,
		resolver:      condition.NewResolver(st),
		msgService:    messaging.NewService(st, msgOpts...),
		registry:      newSessionRegistry(),
		tables:        tables,
		upgrader: websocket.Upgrader{
			// Participants open study links from SMS and WhatsApp; the
			// front-end origin is not known at build time.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	slog.Debug("Server.NewServer: configured", "addr", cfg.Addr, "sessionTTL", cfg.SessionTTL, "sweepSchedule", cfg.SweepSchedule, "modePlanSet", cfg.ModePlanPath != "")
	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.sessionHandler)
	mux.HandleFunc("/session/answer", s.answerHandler)
	mux.HandleFunc("/session/next", s.nextHandler)
	mux.HandleFunc("/session/back", s.backHandler)
	mux.HandleFunc("/session/modality", s.modalityHandler)
	mux.HandleFunc("/session/capability", s.capabilityHandler)
	mux.HandleFunc("/session/survey", s.surveyHandler)
	mux.HandleFunc("/session/stream", s.streamHandler)
	mux.HandleFunc("/invitations", s.invitationsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// sweepIdleSessions evicts sessions idle past the TTL.
func (s *Server) sweepIdleSessions() {
	if n := s.registry.sweep(s.sessionTTL); n > 0 {
		slog.Info("Server.sweepIdleSessions: evicted idle sessions", "count", n, "ttl", s.sessionTTL)
	}
}

// Run builds the store and server from the given module options, starts
// the idle-session sweep, and serves HTTP until SIGINT or SIGTERM. With no
// store options the study data stays in process memory.
func Run(storeOpts []store.Option, msgOpts []messaging.Option, apiOpts []Option) error {
	var st store.Store
	if len(storeOpts) == 0 {
		slog.Info("Run: no database DSN configured, using in-memory store")
		st = store.NewInMemoryStore()
	} else {
		var err error
		st, err = store.NewStoreFromOptions(storeOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
	}

	srv, err := NewServer(st, msgOpts, apiOpts...)
	if err != nil {
		st.Close()
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(srv.sweepSchedule, srv.sweepIdleSessions); err != nil {
		st.Close()
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              srv.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	slog.Info("GiftFlow API running", "addr", srv.addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			st.Close()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case sig := <-quit:
		slog.Info("Run: shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			slog.Error("Run: HTTP shutdown failed", "error", err)
		}
	}

	if err := st.Close(); err != nil {
		slog.Warn("Run: store close failed", "error", err)
	}
	slog.Info("Run: server stopped")
	return nil
}
