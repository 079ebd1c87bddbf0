package llm

import (
	"strings"

	"github.com/omicscout/omicscout/internal/provider"
)

const (
	defaultContextWindow = 128000
	nearLimitThreshold   = 0.8

	// globalScopeMarker is the reserved sub-id for which usage may be
	// borrowed across sibling sessions of the same scope.
	globalScopeMarker = "global"
)

// defaultModelLimits maps model names to context-window sizes. Lookup is
// exact match first, then longest-prefix match for versioned names.
var defaultModelLimits = map[string]int{
	// Anthropic
	"claude-sonnet-4-20250514": 200000,
	"claude-opus-4-20250514":   200000,
	"claude-3-5-haiku":         200000,
	// OpenAI
	"gpt-4o":      128000,
	"gpt-4o-mini": 128000,
	"gpt-4.1":     1000000,
	"o3":          200000,
	"o4-mini":     200000,
	// DeepSeek
	"deepseek-chat":     64000,
	"deepseek-reasoner": 64000,
	// Google
	"gemini-2.5-pro":   1000000,
	"gemini-2.5-flash": 1000000,
}

// SessionStats is the usage snapshot reported to callers.
type SessionStats struct {
	ApproxTokens int
	LimitTokens  int
	NearLimit    bool
}

// BudgetTracker tracks approximate token usage per session and resolves
// per-model context-window limits.
type BudgetTracker struct {
	store        *SessionStore
	limits       map[string]int
	defaultModel string
}

// NewBudgetTracker merges the static limit table with config overrides.
func NewBudgetTracker(store *SessionStore, overrides map[string]int, defaultModel string) *BudgetTracker {
	limits := make(map[string]int, len(defaultModelLimits)+len(overrides))
	for k, v := range defaultModelLimits {
		limits[k] = v
	}
	for k, v := range overrides {
		limits[k] = v
	}
	return &BudgetTracker{store: store, limits: limits, defaultModel: defaultModel}
}

// UpdateUsage adds one call's prompt and completion tokens to the session's
// running totals. Provider-reported counts are used when present; otherwise
// usage is estimated as chars/4 on each side.
func (bt *BudgetTracker) UpdateUsage(sessionID string, usage provider.Usage, inputChars, outputChars int) {
	s, ok := bt.store.Lookup(sessionID)
	if !ok {
		return
	}

	in := usage.InputTokens
	if in == 0 {
		in = inputChars / 4
	}
	out := usage.OutputTokens
	if out == 0 {
		out = outputChars / 4
	}

	bt.store.mu.Lock()
	defer bt.store.mu.Unlock()
	s.ApproxChars += inputChars + outputChars
	s.ApproxTokens += in + out
}

// ResolveLimit returns the context-window limit for the session's pinned
// model (or the tracker default model): exact match, then longest-prefix
// match for versioned model names, else the global default.
func (bt *BudgetTracker) ResolveLimit(sessionID string) int {
	model := bt.defaultModel
	if s, ok := bt.store.Lookup(sessionID); ok && s.Model != "" {
		model = s.Model
	}
	return bt.limitForModel(model)
}

func (bt *BudgetTracker) limitForModel(model string) int {
	if limit, ok := bt.limits[model]; ok {
		return limit
	}
	bestLen, bestLimit := 0, 0
	for name, limit := range bt.limits {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			bestLen, bestLimit = len(name), limit
		}
	}
	if bestLen > 0 {
		return bestLimit
	}
	return defaultContextWindow
}

// IsNearLimit reports whether the session crossed the near-limit threshold.
func (bt *BudgetTracker) IsNearLimit(sessionID string) bool {
	stats := bt.Stats(sessionID)
	return stats.NearLimit
}

// Stats returns the usage snapshot for a session id.
//
// Composite ids of the form "<scope>:<sub-id>" with no exact match follow
// the borrowing rule: the reserved global sub-id may borrow the highest
// usage among sibling sessions of the same scope; any other sub-id gets
// zeroed stats, since usage is never borrowed across distinct, named
// conversations.
func (bt *BudgetTracker) Stats(sessionID string) SessionStats {
	if s, ok := bt.store.Lookup(sessionID); ok {
		return bt.statsFor(s)
	}

	scope, sub, found := strings.Cut(sessionID, ":")
	if found && sub == globalScopeMarker {
		if sibling := bt.busiestSibling(scope); sibling != nil {
			return bt.statsFor(sibling)
		}
	}

	return SessionStats{
		ApproxTokens: 0,
		LimitTokens:  bt.limitForModel(bt.defaultModel),
		NearLimit:    false,
	}
}

func (bt *BudgetTracker) statsFor(s *Session) SessionStats {
	bt.store.mu.Lock()
	tokens := s.ApproxTokens
	model := s.Model
	bt.store.mu.Unlock()

	if model == "" {
		model = bt.defaultModel
	}
	limit := bt.limitForModel(model)
	return SessionStats{
		ApproxTokens: tokens,
		LimitTokens:  limit,
		NearLimit:    float64(tokens) > float64(limit)*nearLimitThreshold,
	}
}

// busiestSibling returns the session with the highest recorded usage among
// sessions sharing the scope prefix, or nil when none exist.
func (bt *BudgetTracker) busiestSibling(scope string) *Session {
	bt.store.mu.Lock()
	defer bt.store.mu.Unlock()

	prefix := scope + ":"
	var best *Session
	for id, s := range bt.store.sessions {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if best == nil || s.ApproxTokens > best.ApproxTokens {
			best = s
		}
	}
	return best
}
