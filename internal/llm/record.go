package llm

import "context"

// AnalysisRecord captures one completed structured call for bookkeeping.
type AnalysisRecord struct {
	SessionID    string
	Kind         string // "analysis" | "plan"
	Query        string
	Payload      map[string]any
	Fallback     bool
	InputTokens  int
	OutputTokens int
}

// AnalysisRecorder persists completed analyses. Implementations must be
// safe for concurrent use; a failed write never fails the call that
// produced the record.
type AnalysisRecorder interface {
	Record(ctx context.Context, rec AnalysisRecord) error
}
