package llm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/omicscout/omicscout/internal/provider"
)

// SessionStore owns the ordered conversation history and metadata for every
// session id. Sessions live for the process lifetime and are never
// explicitly destroyed.
//
// The store-level mutex guards the map and session fields; per-session call
// ordering is the caller's job via CallLock.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	logger   *slog.Logger
}

func NewSessionStore(logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

// CallLock returns the mutex serializing logical calls for a session id.
// It exists independently of the session itself so the very first call on
// an id is serialized too.
func (st *SessionStore) CallLock(id string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	if mu, ok := st.locks[id]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	st.locks[id] = mu
	return mu
}

// Lookup returns the session for id, if one exists.
func (st *SessionStore) Lookup(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

// GetOrCreate returns the existing session or initializes one whose history
// is just the system message.
func (st *SessionStore) GetOrCreate(id, systemPrompt string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		if err := st.checkInvariant(s); err != nil {
			// Corrupted ordering: serve a fresh context instead.
			st.logger.Warn("resetting corrupted session", "session_id", id, "error", err)
			st.resetLocked(s, systemPrompt)
		}
		return s
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		Messages:  []provider.Message{{Role: provider.RoleSystem, Content: systemPrompt}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.sessions[id] = s
	return s
}

// AppendAndPrune appends a message, then evicts the oldest non-system
// message (index 1) while the total serialized length exceeds maxChars and
// more than 2 messages remain. The system message at index 0 is never
// evicted.
func (st *SessionStore) AppendAndPrune(id string, role provider.Role, content string, maxChars int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return
	}
	s.Messages = append(s.Messages, provider.Message{Role: role, Content: content})
	s.UpdatedAt = time.Now()

	for s.totalChars() > maxChars && len(s.Messages) > 2 {
		s.Messages = append(s.Messages[:1], s.Messages[2:]...)
	}
}

// PinModel records the model a session is pinned to. A later empty model
// never unpins.
func (st *SessionStore) PinModel(id, model string) {
	if model == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		s.Model = model
	}
}

// Reset discards a session's history and usage counters, keeping only a
// fresh system message.
func (st *SessionStore) Reset(id, systemPrompt string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		st.resetLocked(s, systemPrompt)
	}
}

// checkInvariant verifies the message-ordering invariant. Must be called
// with st.mu held.
func (st *SessionStore) checkInvariant(s *Session) error {
	if len(s.Messages) == 0 {
		return &SessionInvariantViolation{SessionID: s.ID, Reason: "empty message list"}
	}
	if s.Messages[0].Role != provider.RoleSystem {
		return &SessionInvariantViolation{SessionID: s.ID, Reason: "first message is not the system message"}
	}
	return nil
}

func (st *SessionStore) resetLocked(s *Session, systemPrompt string) {
	s.Messages = []provider.Message{{Role: provider.RoleSystem, Content: systemPrompt}}
	s.ApproxChars = 0
	s.ApproxTokens = 0
	s.ContextHash = ""
	s.UpdatedAt = time.Now()
}

// snapshotMessages returns a copy of the session's message slice so callers
// can build requests without holding the store lock.
func (st *SessionStore) snapshotMessages(id string) ([]provider.Message, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	msgs := make([]provider.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs, true
}
