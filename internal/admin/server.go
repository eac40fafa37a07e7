// Package admin serves the operational HTTP endpoints of a balancer node.
//
// Endpoints:
//
//	GET  /healthz       liveness, 503 until the balancer is started
//	GET  /status        node status as JSON
//	GET  /assignments   persisted cluster assignments, ?node= filters by node
//	POST /rebalance     requests an early balancing pass on the leader
//	GET  /metrics       Prometheus exposition
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pzmi/hermes"
	"github.com/pzmi/hermes/types"
)

// Backend is the part of the balancer the admin endpoints read.
type Backend interface {
	Status() hermes.Status
	Assignments(ctx context.Context) (*types.AssignmentSet, error)
	Trigger()
}

// Server is the admin HTTP server.
type Server struct {
	backend    Backend
	logger     types.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the router and the underlying http.Server.
//
// Parameters:
//   - addr: Listen address, e.g. ":8080"
//   - backend: Balancer to expose
//   - gatherer: Registry served on /metrics; prometheus.DefaultGatherer if nil
//   - logger: Logger for server errors
func NewServer(addr string, backend Backend, gatherer prometheus.Gatherer, logger types.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/assignments", s.handleAssignments)
	r.Post("/rebalance", s.handleRebalance)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background.
func (s *Server) Start() {
	s.logger.Info("starting admin server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.backend.Status()
	code := http.StatusOK
	state := "ok"
	if !status.Started {
		code = http.StatusServiceUnavailable
		state = "stopped"
	}

	writeJSON(w, code, map[string]any{
		"status":    state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	set, err := s.backend.Assignments(r.Context())
	if err != nil {
		if errors.Is(err, types.ErrNotStarted) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Warn("failed to read assignments", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	var assignments []types.Assignment
	if node := r.URL.Query().Get("node"); node != "" {
		assignments = set.ForNode(types.NodeID(node))
	} else {
		assignments = set.All()
	}
	if assignments == nil {
		assignments = []types.Assignment{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(assignments),
		"nodes":       len(set.Nodes()),
		"assignments": assignments,
	})
}

func (s *Server) handleRebalance(w http.ResponseWriter, _ *http.Request) {
	if !s.backend.Status().Leader {
		writeError(w, http.StatusConflict, types.ErrNotLeader.Error())
		return
	}
	s.backend.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
