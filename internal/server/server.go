// Package server exposes the orchestration core over HTTP: JSON query,
// SSE streaming, and the catalog and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docsage/docsage/internal/llm"
	"github.com/docsage/docsage/internal/orchestrator"
	"github.com/docsage/docsage/internal/prompt"
	"github.com/docsage/docsage/internal/tools"
	"github.com/docsage/docsage/pkg/models"
)

// DefaultStreamIdleTimeout bounds how long one SSE write may stall before
// the client is considered gone.
const DefaultStreamIdleTimeout = 30 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Addr string

	Orchestrator *orchestrator.Orchestrator
	Templates    *prompt.Store
	Registry     *tools.Registry
	Provider     llm.Provider

	Logger *slog.Logger

	// StreamIdleTimeout is the per-write deadline on SSE frames.
	StreamIdleTimeout time.Duration

	// MetricsHandler overrides the /metrics handler. Default promhttp.
	MetricsHandler http.Handler
}

// Server is the HTTP front end.
type Server struct {
	orch        *orchestrator.Orchestrator
	templates   *prompt.Store
	registry    *tools.Registry
	provider    llm.Provider
	logger      *slog.Logger
	idleTimeout time.Duration

	httpServer *http.Server
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StreamIdleTimeout <= 0 {
		opts.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}

	s := &Server{
		orch:        opts.Orchestrator,
		templates:   opts.Templates,
		registry:    opts.Registry,
		provider:    opts.Provider,
		logger:      opts.Logger,
		idleTimeout: opts.StreamIdleTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /llm/query", s.handleQuery)
	mux.HandleFunc("POST /llm/stream", s.handleStream)
	mux.HandleFunc("GET /llm/templates", s.handleTemplates)
	mux.HandleFunc("GET /llm/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /llm/tools", s.handleTools)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", opts.MetricsHandler)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorBody struct {
	ErrorKind models.ErrorKind `json:"error_kind"`
	Message   string           `json:"message"`
}

// statusForKind maps error kinds onto HTTP statuses for non-streaming
// responses.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidRequest, models.KindTemplateError, models.KindInvalidArguments:
		return http.StatusBadRequest
	case models.KindAuth:
		return http.StatusUnauthorized
	case models.KindNotFound, models.KindToolNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindContextOverflow:
		return http.StatusRequestEntityTooLarge
	case models.KindProviderRateLimited, models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindProviderTimeout, models.KindToolTimeout:
		return http.StatusGatewayTimeout
	case models.KindProviderUnavailable, models.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(errorBody{ErrorKind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.NewKindError(models.KindInvalidRequest, "malformed request body: %v", err))
		return
	}

	resp, err := s.orch.Query(r.Context(), &req)
	if err != nil {
		s.logger.Warn("query failed", "kind", models.KindOf(err), "error", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.NewKindError(models.KindInvalidRequest, "malformed request body: %v", err))
		return
	}

	sink := newSSESink(w, s.idleTimeout)
	err := s.orch.Stream(r.Context(), &req, sink)
	if err != nil {
		s.logger.Warn("stream failed", "kind", models.KindOf(err), "error", err)
		// Before the first frame the HTTP status is still ours to set.
		// After it, the orchestrator already delivered an error frame and
		// the status must stay 200.
		if !sink.wrote {
			s.writeError(w, err)
		}
	}
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"templates": s.templates.List()})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"provider":     s.provider.Name(),
		"capabilities": s.provider.Capabilities(),
	})
}

// toolInfo is the /llm/tools row.
type toolInfo struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Parameters    json.RawMessage `json:"parameters"`
	SideEffecting bool            `json:"side_effecting"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()
	out := make([]toolInfo, len(defs))
	for i, def := range defs {
		out[i] = toolInfo{
			Name:          def.Name,
			Description:   def.Description,
			Parameters:    def.Parameters,
			SideEffecting: def.SideEffecting,
		}
	}
	writeJSON(w, map[string]any{"tools": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}
