package llm

import (
	"testing"

	"github.com/omicscout/omicscout/internal/provider"
)

func newTestTracker(t *testing.T) (*SessionStore, *BudgetTracker) {
	t.Helper()
	st := NewSessionStore(nil)
	bt := NewBudgetTracker(st, nil, "gpt-4o")
	return st, bt
}

func TestBudget_ProviderCountsPreferred(t *testing.T) {
	st, bt := newTestTracker(t)
	st.GetOrCreate("s1", "sys")

	bt.UpdateUsage("s1", provider.Usage{InputTokens: 100, OutputTokens: 50}, 9999, 9999)

	if got := bt.Stats("s1").ApproxTokens; got != 150 {
		t.Errorf("ApproxTokens = %d, want 150 (provider counts)", got)
	}
}

func TestBudget_EstimateWhenUnreported(t *testing.T) {
	st, bt := newTestTracker(t)
	st.GetOrCreate("s1", "sys")

	bt.UpdateUsage("s1", provider.Usage{}, 400, 200)

	// chars/4 on each side: 100 + 50.
	if got := bt.Stats("s1").ApproxTokens; got != 150 {
		t.Errorf("ApproxTokens = %d, want 150 (chars/4 estimate)", got)
	}
}

func TestBudget_LimitResolution(t *testing.T) {
	st, bt := newTestTracker(t)

	tests := []struct {
		model string
		want  int
	}{
		{"gpt-4o", 128000},                   // exact
		{"claude-sonnet-4-20250514", 200000}, // exact
		{"deepseek-chat-v3-0324", 64000},     // longest prefix
		{"gpt-4.1-mini-2025", 1000000},       // longest prefix
		{"totally-unknown-model", 128000},    // default
	}
	for _, tt := range tests {
		id := "m:" + tt.model
		s := st.GetOrCreate(id, "sys")
		s.Model = tt.model
		if got := bt.ResolveLimit(id); got != tt.want {
			t.Errorf("ResolveLimit(%s) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestBudget_ConfigOverridesLimitTable(t *testing.T) {
	st := NewSessionStore(nil)
	bt := NewBudgetTracker(st, map[string]int{"gpt-4o": 42}, "gpt-4o")

	s := st.GetOrCreate("s1", "sys")
	s.Model = "gpt-4o"
	if got := bt.ResolveLimit("s1"); got != 42 {
		t.Errorf("override ignored, limit = %d", got)
	}
}

func TestBudget_NearLimitThreshold(t *testing.T) {
	st := NewSessionStore(nil)
	bt := NewBudgetTracker(st, map[string]int{"tiny": 1000}, "tiny")
	s := st.GetOrCreate("s1", "sys")
	s.Model = "tiny"

	s.ApproxTokens = 800
	if bt.IsNearLimit("s1") {
		t.Error("near-limit at exactly 80%")
	}
	s.ApproxTokens = 801
	if !bt.IsNearLimit("s1") {
		t.Error("not near-limit above 80%")
	}
}

func TestBudget_GlobalSubIDBorrowsBusiestSibling(t *testing.T) {
	st, bt := newTestTracker(t)

	a := st.GetOrCreate("proj:alpha", "sys")
	a.ApproxTokens = 100
	b := st.GetOrCreate("proj:beta", "sys")
	b.ApproxTokens = 700

	stats := bt.Stats("proj:global")
	if stats.ApproxTokens != 700 {
		t.Errorf("global stats borrowed %d tokens, want 700 (busiest sibling)", stats.ApproxTokens)
	}
}

func TestBudget_UnknownNamedSubIDZeroed(t *testing.T) {
	st, bt := newTestTracker(t)

	a := st.GetOrCreate("proj:alpha", "sys")
	a.ApproxTokens = 500

	stats := bt.Stats("proj:gamma")
	if stats.ApproxTokens != 0 {
		t.Errorf("named sub-id borrowed %d tokens, want 0", stats.ApproxTokens)
	}
	if stats.LimitTokens != 128000 {
		t.Errorf("limit = %d, want default-model limit", stats.LimitTokens)
	}
	if stats.NearLimit {
		t.Error("zeroed stats marked near-limit")
	}
}

func TestBudget_GlobalWithNoSiblingsZeroed(t *testing.T) {
	_, bt := newTestTracker(t)

	stats := bt.Stats("lonely:global")
	if stats.ApproxTokens != 0 || stats.NearLimit {
		t.Errorf("stats = %+v, want zeroed", stats)
	}
}

func TestBudget_NonCompositeUnknownIDZeroed(t *testing.T) {
	_, bt := newTestTracker(t)

	stats := bt.Stats("plain-unknown")
	if stats.ApproxTokens != 0 {
		t.Errorf("ApproxTokens = %d, want 0", stats.ApproxTokens)
	}
}
