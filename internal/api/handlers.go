package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/omicscout/omicscout/internal/store"
)

type askRequest struct {
	Question    string `json:"question"`
	SideContext string `json:"side_context,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Model       string `json:"model,omitempty"`
}

type askResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

type codeRequest struct {
	Instruction string `json:"instruction"`
	SideContext string `json:"side_context,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Model       string `json:"model,omitempty"`
}

type codeResponse struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	sessionID := orNewSession(req.SessionID)

	answer, err := h.svc.Ask(r.Context(), req.Question, req.SideContext, sessionID, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ask failed")
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: answer, SessionID: sessionID})
}

func (h *Handler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Instruction == "" {
		writeError(w, http.StatusBadRequest, "instruction is required")
		return
	}
	sessionID := orNewSession(req.SessionID)

	code, err := h.svc.GenerateCode(r.Context(), req.Instruction, req.SideContext, sessionID, req.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "code generation failed")
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{Code: code, SessionID: sessionID})
}

func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	stats := h.svc.GetSessionStats(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"approx_tokens": stats.ApproxTokens,
		"limit_tokens":  stats.LimitTokens,
		"near_limit":    stats.NearLimit,
	})
}

func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.analyses == nil {
		writeError(w, http.StatusNotFound, "analysis bookkeeping is disabled")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.analyses.Recent(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("list analyses failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list analyses failed")
		return
	}
	if records == nil {
		records = []store.StoredAnalysis{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

// orNewSession returns the given session id, or mints one so every response
// carries an id the caller can continue with.
func orNewSession(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
