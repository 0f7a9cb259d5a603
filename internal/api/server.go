// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api is the HTTP surface of the daemon: a websocket stream of
// network events for the web layer, a state snapshot, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/metrics"
	"grimm.is/netinstall/internal/network/model"
)

// StateSource returns a snapshot of the network state.
type StateSource interface {
	State(ctx context.Context) (*model.NetworkState, error)
}

// ServerOptions holds the dependencies of the API server.
type ServerOptions struct {
	Listen string
	State  StateSource
	Hub    *Hub
	// Metrics defaults to metrics.Get().
	Metrics *metrics.Registry
	// Collector is optional; without it /api/network/summary is not served.
	Collector *metrics.Collector
	Logger    *logging.Logger
	// RequestTimeout bounds calls into the control loop.
	RequestTimeout time.Duration
}

// Server handles API requests.
type Server struct {
	opts   ServerOptions
	router *mux.Router
	logger *logging.Logger
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger, 0)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:8089"
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger.WithComponent("api"),
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Handle("/ws/events", s.opts.Hub).Methods(http.MethodGet)
	api.HandleFunc("/network/state", s.handleState).Methods(http.MethodGet)
	if s.opts.Collector != nil {
		api.HandleFunc("/network/summary", s.handleSummary).Methods(http.MethodGet)
	}
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Name() string { return "api" }

// Run serves until ctx is done and then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.opts.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- errors.Wrap(err, errors.KindUnavailable, "api server")
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.opts.Hub.Close()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		s.logger.Warn("API server shutdown", "error", err)
	}
	return <-errc
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	status := map[string]any{"status": "ok", "clients": s.opts.Hub.Clients()}
	code := http.StatusOK
	if s.opts.State == nil {
		status["status"] = "degraded"
		status["error"] = "no network system"
		code = http.StatusServiceUnavailable
	} else if _, err := s.opts.State.State(ctx); err != nil {
		status["status"] = "degraded"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.opts.State == nil {
		writeError(w, errors.New(errors.KindUnavailable, "no network system"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	state, err := s.opts.State.State(ctx)
	if err != nil {
		s.logger.Warn("Could not read network state", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Collector.Summary())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		code = http.StatusBadRequest
	case errors.KindNotFound:
		code = http.StatusNotFound
	case errors.KindConflict:
		code = http.StatusConflict
	case errors.KindUnavailable:
		code = http.StatusServiceUnavailable
	case errors.KindTimeout:
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
