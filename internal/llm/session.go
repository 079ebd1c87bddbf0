package llm

import (
	"time"

	"github.com/omicscout/omicscout/internal/provider"
)

// Session holds the conversation state for one caller-named session.
// Messages always start with a system message at index 0; pruning never
// removes it.
type Session struct {
	ID        string
	Messages  []provider.Message
	Model     string // pinned model, empty = service default
	CreatedAt time.Time
	UpdatedAt time.Time

	// Running usage totals. ApproxTokens only grows (barring an explicit
	// reset); exact when the provider reports usage, chars/4 otherwise.
	ApproxChars  int
	ApproxTokens int

	// ContextHash is the hash of the last side-context blob actually sent.
	ContextHash string
}

// totalChars returns the serialized length of the message history.
func (s *Session) totalChars() int {
	total := 0
	for _, m := range s.Messages {
		total += len(m.Content)
	}
	return total
}
