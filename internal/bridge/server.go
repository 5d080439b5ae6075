// Package bridge exposes the notification bus over HTTP so a model running
// in another process can raise notifications, honour vetoes and toggle locks.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
	"github.com/kingrea/maidsync/internal/mirror"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the bridge is switched off.
var ErrDisabled = errors.New("bridge: server disabled")

// Bus is the part of hookbus.Bus the bridge drives.
type Bus interface {
	Raise(ctx context.Context, n hookbus.Notification) (hookbus.Reply, error)
	Do(ctx context.Context, fn func(ctx context.Context)) error
}

// LockController changes and lists locks. It is only called on the consumer,
// through Bus.Do. *mirror.Engine satisfies it.
type LockController interface {
	SetLocked(ctx context.Context, entity change.Entity, tag change.Tag, locked bool) error
	Locks() *mirror.LockRegistry
}

// Logger matches the Printf-style loggers used across the module.
type Logger interface {
	Printf(format string, args ...any)
}

// Server wraps the HTTP listener and handlers backing the bridge.
type Server struct {
	settings Settings
	bus      Bus
	locks    LockController
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
	logger   Logger
	clock    func() time.Time
	router   chi.Router

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLocks enables the /locks endpoints.
func WithLocks(l LockController) Option {
	return func(s *Server) {
		s.locks = l
	}
}

// WithGatherer serves the given registry at /metrics instead of the default.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer("maidsync/bridge")
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server that raises notifications on bus.
func NewServer(settings Settings, bus Bus, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		bus:      bus,
		gatherer: prometheus.DefaultGatherer,
		tracer:   otel.Tracer("maidsync/bridge"),
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Post("/events", s.handleEvents)
	r.Post("/locks", s.handleSetLock)
	r.Get("/locks/{entity}", s.handleListLocks)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: headerTimeout,
		WriteTimeout:      s.settings.writeTimeout(),
		IdleTimeout:       idleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to exit, at most ShutdownGrace when ctx carries no deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		deadline = context.Background()
	}
	if _, ok := deadline.Deadline(); !ok {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(deadline, s.settings.ShutdownGrace)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	LocksEnabled  bool   `json:"locks_enabled"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status string        `json:"status"`
	ID     string        `json:"id"`
	Reply  hookbus.Reply `json:"reply"`
}

type lockRequest struct {
	Entity change.Entity `json:"entity"`
	Tag    change.Tag    `json:"tag"`
	Locked bool          `json:"locked"`
}

type lockList struct {
	Entity change.Entity `json:"entity"`
	Tags   []change.Tag  `json:"tags"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		LocksEnabled:  s.locks != nil,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

// handleEvents raises one notification. Request kinds answer 200 with the
// consumer's reply; informational kinds answer 202 once queued.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "bridge.events")
	defer span.End()

	var n hookbus.Notification
	if !s.decode(w, r, &n) {
		span.SetStatus(codes.Error, "bad request")
		return
	}
	n.Normalize(s.clock())
	span.SetAttributes(
		attribute.String("notification.kind", string(n.Kind)),
		attribute.String("notification.entity", string(n.Entity)),
		attribute.String("notification.tag", n.Tag.String()),
	)
	if err := n.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid notification")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.ReplyTimeout)
	defer cancel()
	reply, err := s.bus.Raise(ctx, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "raise failed")
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, hookbus.ErrDuplicate):
			status = http.StatusConflict
		case errors.Is(err, hookbus.ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		s.logger.Printf("bridge: raise %s %s: %v", n.Kind, n.Tag, err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	span.SetAttributes(attribute.Bool("reply.veto", reply.Veto))
	if !n.Kind.Requests() {
		writeJSON(w, http.StatusAccepted, eventResponse{Status: "accepted", ID: n.ID, Reply: reply})
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Status: "answered", ID: n.ID, Reply: reply})
}

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "locks are not enabled"})
		return
	}
	ctx, span := s.tracer.Start(r.Context(), "bridge.locks.set")
	defer span.End()

	var req lockRequest
	if !s.decode(w, r, &req) {
		span.SetStatus(codes.Error, "bad request")
		return
	}
	if req.Entity.None() || !req.Tag.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entity and a valid tag are required"})
		return
	}
	span.SetAttributes(
		attribute.String("lock.entity", string(req.Entity)),
		attribute.String("lock.tag", req.Tag.String()),
		attribute.Bool("lock.locked", req.Locked),
	)
	ctx, cancel := context.WithTimeout(ctx, s.settings.ReplyTimeout)
	defer cancel()
	var setErr error
	if err := s.bus.Do(ctx, func(ctx context.Context) {
		setErr = s.locks.SetLocked(ctx, req.Entity, req.Tag, req.Locked)
	}); err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if setErr != nil {
		span.RecordError(setErr)
		status := http.StatusInternalServerError
		if errors.Is(setErr, mirror.ErrUnknownTag) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: setErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "locks are not enabled"})
		return
	}
	entity := change.Entity(chi.URLParam(r, "entity"))
	ctx, cancel := context.WithTimeout(r.Context(), s.settings.ReplyTimeout)
	defer cancel()
	var tags []change.Tag
	if err := s.bus.Do(ctx, func(context.Context) {
		tags = s.locks.Locks().Locked(entity)
	}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if tags == nil {
		tags = []change.Tag{}
	}
	writeJSON(w, http.StatusOK, lockList{Entity: entity, Tags: tags})
}

// decode reads a size-limited JSON body into dst, writing the error response
// itself when it fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty body"})
		return false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read body"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
