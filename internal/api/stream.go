package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/omicscout/omicscout/internal/llm"
)

// streamFrame is the wire shape of one server-sent event.
type streamFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Step      map[string]any `json:"step,omitempty"`
	Fallback  bool           `json:"fallback,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type streamRequest struct {
	Question    string `json:"question,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Query       string `json:"query,omitempty"`
	Request     string `json:"request,omitempty"`
	SideContext string `json:"side_context,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Model       string `json:"model,omitempty"`
}

type streamStarter func(ctx context.Context, req streamRequest, sessionID string) (<-chan llm.StreamEvent, error)

func (h *Handler) AskStream(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, "question", false,
		func(ctx context.Context, req streamRequest, sessionID string) (<-chan llm.StreamEvent, error) {
			return h.svc.AskStream(ctx, req.Question, req.SideContext, sessionID, req.Model)
		})
}

func (h *Handler) GenerateCodeStream(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, "instruction", false,
		func(ctx context.Context, req streamRequest, sessionID string) (<-chan llm.StreamEvent, error) {
			return h.svc.GenerateCodeStream(ctx, req.Instruction, req.SideContext, sessionID, req.Model)
		})
}

func (h *Handler) AnalyzeQuery(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, "query", false,
		func(ctx context.Context, req streamRequest, sessionID string) (<-chan llm.StreamEvent, error) {
			return h.svc.AnalyzeQueryStream(ctx, req.Query, sessionID)
		})
}

func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, "request", true,
		func(ctx context.Context, req streamRequest, sessionID string) (<-chan llm.StreamEvent, error) {
			return h.svc.GeneratePlanStream(ctx, req.Request, sessionID)
		})
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, field string, planSteps bool, start streamStarter) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if requiredField(req, field) == "" {
		writeError(w, http.StatusBadRequest, field+" is required")
		return
	}
	sessionID := orNewSession(req.SessionID)

	events, err := start(r.Context(), req, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream failed")
		return
	}

	bw, flusher, err := prepareEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The session id rides on the first frame so callers without one learn
	// the id to continue with.
	first := true
	for ev := range events {
		frame := toFrame(ev)
		if first {
			frame.SessionID = sessionID
			first = false
		}
		if !writeFrame(bw, flusher, frame) {
			return
		}
		if planSteps && ev.Kind == llm.EventFinal {
			for _, step := range extractPlanSteps(ev.Payload) {
				if !writeFrame(bw, flusher, streamFrame{Type: "plan_step", Step: step}) {
					return
				}
			}
		}
	}
}

func requiredField(req streamRequest, field string) string {
	switch field {
	case "question":
		return req.Question
	case "instruction":
		return req.Instruction
	case "query":
		return req.Query
	case "request":
		return req.Request
	}
	return ""
}

func prepareEventStream(w http.ResponseWriter) (*bufio.Writer, http.Flusher, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Flusher")
	}
	return bufio.NewWriter(w), flusher, nil
}

func writeFrame(bw *bufio.Writer, flusher http.Flusher, frame streamFrame) bool {
	b, _ := json.Marshal(frame)
	if _, err := fmt.Fprintf(bw, "data: %s\n\n", string(b)); err != nil {
		return false
	}
	if err := bw.Flush(); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func toFrame(ev llm.StreamEvent) streamFrame {
	switch ev.Kind {
	case llm.EventStatus:
		return streamFrame{Type: "status", Status: ev.Status}
	case llm.EventReasoning:
		return streamFrame{Type: "reasoning", Delta: ev.Delta}
	case llm.EventContent:
		return streamFrame{Type: "content", Delta: ev.Delta}
	case llm.EventFinal:
		return streamFrame{Type: "final", Payload: ev.Payload, Fallback: ev.Fallback}
	case llm.EventError:
		return streamFrame{Type: "error", Message: ev.Message}
	case llm.EventDone:
		return streamFrame{Type: "done"}
	}
	return streamFrame{Type: "unknown"}
}

// extractPlanSteps pulls the per-step objects out of a plan payload so each
// can be delivered as its own frame.
func extractPlanSteps(payload map[string]any) []map[string]any {
	raw, ok := payload["steps"].([]any)
	if !ok {
		return nil
	}
	steps := make([]map[string]any, 0, len(raw))
	for _, s := range raw {
		if m, ok := s.(map[string]any); ok {
			steps = append(steps, m)
		}
	}
	return steps
}
