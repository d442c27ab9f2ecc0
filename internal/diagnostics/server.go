// Package diagnostics serves a local HTTP view of a running engine:
// Prometheus metrics, a lifecycle snapshot and the recent event log.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hvhvdevdev/zee1/internal/engine/events"
	"github.com/hvhvdevdev/zee1/internal/engine/state"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// SnapshotSource reports the engine lifecycle. *engine.Root implements it.
type SnapshotSource interface {
	Snapshot() state.Snapshot
}

// Options configures a Server.
type Options struct {
	Addr     string
	Source   SnapshotSource
	Events   events.EventLogger
	Registry *prometheus.Registry
	Logger   *logrus.Entry

	// RequestsPerSecond limits each client. Zero means 20.
	RequestsPerSecond float64
}

// Server is the diagnostics HTTP server.
type Server struct {
	opts   Options
	log    *logrus.Entry
	router *mux.Router
	srv    *http.Server
	ln     net.Listener
}

// New creates a Server. Call Start to begin listening.
func New(opts Options) *Server {
	if opts.Events == nil {
		opts.Events = events.NoOpLogger{}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		opts: opts,
		log:  log.WithField("component", "diagnostics"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.log))
	r.Use(newRateLimiter(s.opts.RequestsPerSecond, int(s.opts.RequestsPerSecond)).middleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/{engine}", s.handleEvents).Methods(http.MethodGet)
	return r
}

// Router returns the HTTP handler.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("diagnostics: listen %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("diagnostics server stopped")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("diagnostics listening")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not attached")
		return
	}
	snap := s.opts.Source.Snapshot()
	status := http.StatusOK
	if !snap.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := defaultEventLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = v
	}
	if n > maxEventLimit {
		n = maxEventLimit
	}

	var list []events.Event
	switch {
	case mux.Vars(r)["engine"] != "":
		list = s.opts.Events.RecentByEngine(mux.Vars(r)["engine"], n)
	case r.URL.Query().Get("type") != "":
		list = s.opts.Events.RecentByType(events.EventType(r.URL.Query().Get("type")), n)
	default:
		list = s.opts.Events.Recent(n)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
