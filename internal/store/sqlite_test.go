package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/omicscout/omicscout/internal/llm"
)

func openTestStore(t *testing.T) *AnalysisStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analyses.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAnalysisStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Record(ctx, llm.AnalysisRecord{
		SessionID:    "s1",
		Kind:         "analysis",
		Query:        "human islet scRNA-seq",
		Payload:      map[string]any{"intent": "search", "organisms": []any{"human"}},
		Fallback:     false,
		InputTokens:  120,
		OutputTokens: 45,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}

	a := got[0]
	if a.SessionID != "s1" || a.Kind != "analysis" {
		t.Errorf("row = %+v", a)
	}
	if a.Payload["intent"] != "search" {
		t.Errorf("payload round-trip = %+v", a.Payload)
	}
	if a.InputTokens != 120 || a.OutputTokens != 45 {
		t.Errorf("tokens = %d/%d", a.InputTokens, a.OutputTokens)
	}
	if a.Fallback {
		t.Error("fallback flag flipped")
	}
	if a.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestAnalysisStore_SessionFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, sess := range []string{"a", "b", "a"} {
		err := s.Record(ctx, llm.AnalysisRecord{
			SessionID: sess,
			Kind:      "plan",
			Query:     string(rune('q' + i)),
			Payload:   map[string]any{"n": i},
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	got, err := s.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered rows = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].ID < got[1].ID {
		t.Errorf("rows not ordered newest first: %d, %d", got[0].ID, got[1].ID)
	}
	for _, a := range got {
		if a.SessionID != "a" {
			t.Errorf("filter leaked session %q", a.SessionID)
		}
	}
}

func TestAnalysisStore_LimitApplied(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, llm.AnalysisRecord{SessionID: "s", Kind: "analysis", Query: "q"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("rows = %d, want 2", len(got))
	}
}

func TestAnalysisStore_FallbackRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Record(ctx, llm.AnalysisRecord{
		SessionID: "s1",
		Kind:      "plan",
		Query:     "q",
		Payload:   map[string]any{"confidence": "low"},
		Fallback:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, "s1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Fallback {
		t.Errorf("fallback not persisted: %+v", got)
	}
}
