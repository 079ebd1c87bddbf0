package llm

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/omicscout/omicscout/internal/provider"
)

// RequestBuilder assembles the minimal message list to send for a call and
// deduplicates large side-context blobs across turns.
type RequestBuilder struct {
	store *SessionStore
}

func NewRequestBuilder(store *SessionStore) *RequestBuilder {
	return &RequestBuilder{store: store}
}

// BuildMinimalMessages returns the messages to send for this call.
//
// With no existing session the result is [system, user]. Otherwise the
// stored history is reused with the latest system prompt substituted for
// the stored system message (prompt wording may drift between calls), and
// userContent is appended only when the stored tail does not already end
// with an identical user turn.
func (b *RequestBuilder) BuildMinimalMessages(sessionID, systemPrompt, userContent string) []provider.Message {
	history, ok := b.store.snapshotMessages(sessionID)
	if !ok || len(history) == 0 {
		return []provider.Message{
			{Role: provider.RoleSystem, Content: systemPrompt},
			{Role: provider.RoleUser, Content: userContent},
		}
	}

	msgs := make([]provider.Message, 0, len(history)+1)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	msgs = append(msgs, history[1:]...)

	tail := msgs[len(msgs)-1]
	if tail.Role != provider.RoleUser || tail.Content != userContent {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: userContent})
	}
	return msgs
}

// ShouldIncludeSideContext reports whether the side-context blob needs to be
// transmitted: true when no session exists or the blob's hash differs from
// the hash recorded at the last actual transmission.
func (b *RequestBuilder) ShouldIncludeSideContext(sessionID, blob string) bool {
	s, ok := b.store.Lookup(sessionID)
	if !ok {
		return true
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return s.ContextHash != hashBlob(blob)
}

// RecordContextHash updates the stored hash after a blob was actually sent.
func (b *RequestBuilder) RecordContextHash(sessionID, blob string) {
	s, ok := b.store.Lookup(sessionID)
	if !ok {
		return
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	s.ContextHash = hashBlob(blob)
}

func hashBlob(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:])
}
