// Package httpapi is the external HTTP surface: agent management, session
// lifecycle, messaging and the live event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepagents-dev/deepagents/internal/bus"
	"github.com/deepagents-dev/deepagents/internal/engine"
	"github.com/deepagents-dev/deepagents/internal/metrics"
	"github.com/deepagents-dev/deepagents/internal/state"
	"github.com/deepagents-dev/deepagents/internal/store"
	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
)

// Server wires the handlers to their dependencies.
type Server struct {
	store   *store.Store
	sandbox sandbox.Manager
	runner  *engine.Runner
	sync    *state.Synchronizer
	bus     *bus.Bus
	metrics *metrics.Metrics
	log     logr.Logger
}

// New creates a Server.
func New(st *store.Store, sb sandbox.Manager, runner *engine.Runner,
	sync *state.Synchronizer, b *bus.Bus, m *metrics.Metrics, log logr.Logger) *Server {
	return &Server{
		store:   st,
		sandbox: sb,
		runner:  runner,
		sync:    sync,
		bus:     b,
		metrics: m,
		log:     log.WithName("http"),
	}
}

// Router builds the route table.
func (s *Server) Router(metricsGatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metricsGatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/import", s.handleImportAgent).Methods(http.MethodPost)
	api.HandleFunc("/agents/{name}/export", s.handleExportAgent).Methods(http.MethodGet)
	api.HandleFunc("/agents/{name}", s.handleDeleteAgent).Methods(http.MethodDelete)

	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleEndSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/events", s.handleEvents).Methods(http.MethodGet)

	api.HandleFunc("/todos/{id}", s.handleUpdateTodo).Methods(http.MethodPatch)

	return router
}

// HTTPServer wraps the router in a server with sane timeouts. Read and write
// timeouts are generous because the events endpoint holds connections open.
func (s *Server) HTTPServer(addr string, metricsGatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(metricsGatherer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps application error codes to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = string(appErr.Code)
		switch appErr.Code {
		case apperrors.ErrCodeAgentNotFound, apperrors.ErrCodeSessionGet:
			status = http.StatusNotFound
		case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeAgentConfig:
			status = http.StatusBadRequest
		case apperrors.ErrCodeSessionNotActive:
			status = http.StatusConflict
		case apperrors.ErrCodeTurnFailed:
			status = http.StatusTooManyRequests
		}
	}

	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
