// Package api exposes the orchestration core over HTTP. Streaming endpoints
// use server-sent events; one JSON frame per event.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omicscout/omicscout/internal/llm"
	"github.com/omicscout/omicscout/internal/store"
)

// Orchestrator is the subset of the orchestration core the HTTP layer needs.
type Orchestrator interface {
	Ask(ctx context.Context, question, sideContext, sessionID, model string) (string, error)
	GenerateCode(ctx context.Context, instruction, sideContext, sessionID, model string) (string, error)
	AskStream(ctx context.Context, question, sideContext, sessionID, model string) (<-chan llm.StreamEvent, error)
	GenerateCodeStream(ctx context.Context, instruction, sideContext, sessionID, model string) (<-chan llm.StreamEvent, error)
	AnalyzeQueryStream(ctx context.Context, query, sessionID string) (<-chan llm.StreamEvent, error)
	GeneratePlanStream(ctx context.Context, request, sessionID string) (<-chan llm.StreamEvent, error)
	GetSessionStats(sessionID string) llm.SessionStats
}

// AnalysisLister reads back persisted analyses. Nil when bookkeeping is
// disabled.
type AnalysisLister interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]store.StoredAnalysis, error)
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	svc      Orchestrator
	analyses AnalysisLister
	logger   *slog.Logger
}

// NewHandler creates the handler set. analyses may be nil.
func NewHandler(svc Orchestrator, analyses AnalysisLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, analyses: analyses, logger: logger}
}

// NewRouter builds the HTTP route tree.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", h.Ask)
		r.Post("/ask/stream", h.AskStream)
		r.Post("/code", h.GenerateCode)
		r.Post("/code/stream", h.GenerateCodeStream)
		r.Post("/analyze/stream", h.AnalyzeQuery)
		r.Post("/plan/stream", h.GeneratePlan)
		r.Get("/sessions/{sessionID}/stats", h.SessionStats)
		r.Get("/analyses", h.ListAnalyses)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
