package llm

import "fmt"

// SessionInvariantViolation reports detected corruption of a session's
// message ordering (missing or displaced system message). The store
// recovers by resetting the session to a fresh system-only state; the
// error is returned so callers can log that corrupted context was dropped.
type SessionInvariantViolation struct {
	SessionID string
	Reason    string
}

func (e *SessionInvariantViolation) Error() string {
	return fmt.Sprintf("session %s invariant violated: %s", e.SessionID, e.Reason)
}
