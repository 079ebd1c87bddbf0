package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/omicscout/omicscout/internal/provider"
)

const (
	defaultMaxHistoryChars = 48000

	// sessionRefCacheCap bounds the provider-side conversation reference
	// cache; the oldest entry is evicted first.
	sessionRefCacheCap = 64
)

// ServiceConfig carries the tunable parts of the orchestration core.
type ServiceConfig struct {
	// SystemPrompt overrides the built-in base system prompt.
	SystemPrompt string

	// Model is the default model; empty uses the provider adapter default.
	Model string

	// PreferredTier is the processing tier tried first; empty disables
	// tier fallback and every call runs on the provider default tier.
	PreferredTier string

	// ContextWindows overrides entries of the model -> context window table.
	ContextWindows map[string]int

	// MaxHistoryChars bounds a session's serialized history before the
	// oldest non-system turns are pruned. 0 uses the default.
	MaxHistoryChars int

	// ReasoningVerbosity controls reasoning event delivery: "low" drops
	// reasoning events entirely, anything else passes them through.
	ReasoningVerbosity string
}

// Service is the caller-facing orchestration API. One Service drives the
// upstream provider for any number of independent sessions; calls against
// the same session id are serialized internally.
type Service struct {
	client   provider.Client
	store    *SessionStore
	builder  *RequestBuilder
	budget   *BudgetTracker
	retry    *RetryController
	recorder AnalysisRecorder
	logger   *slog.Logger

	systemPrompt    string
	defaultModel    string
	maxHistoryChars int
	emitReasoning   bool

	// Provider-side conversation reference cache, insertion-ordered.
	refMu    sync.Mutex
	refs     map[string]string
	refOrder []string
}

// NewService wires the orchestration core. recorder may be nil (no
// bookkeeping); logger may be nil (default logger).
func NewService(client provider.Client, cfg ServiceConfig, recorder AnalysisRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	model := cfg.Model
	if model == "" {
		model = client.DefaultModel()
	}
	maxHistory := cfg.MaxHistoryChars
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistoryChars
	}

	store := NewSessionStore(logger)
	return &Service{
		client:          client,
		store:           store,
		builder:         NewRequestBuilder(store),
		budget:          NewBudgetTracker(store, cfg.ContextWindows, model),
		retry:           NewRetryController(cfg.PreferredTier, logger),
		recorder:        recorder,
		logger:          logger,
		systemPrompt:    systemPrompt,
		defaultModel:    model,
		maxHistoryChars: maxHistory,
		emitReasoning:   cfg.ReasoningVerbosity != "low",
		refs:            make(map[string]string),
	}
}

// ── Blocking calls ───────────────────────────────────────────────────────────

// Ask answers a question within a session. On total upstream failure the
// caller receives a canned best-effort response, never an error (context
// cancellation excepted).
func (s *Service) Ask(ctx context.Context, question, sideContext, sessionID, model string) (string, error) {
	return s.blockingCall(ctx, s.systemPrompt, question, sideContext, sessionID, model, false)
}

// GenerateCode produces analysis code for an instruction. A single Markdown
// code fence around the answer is stripped.
func (s *Service) GenerateCode(ctx context.Context, instruction, sideContext, sessionID, model string) (string, error) {
	return s.blockingCall(ctx, codeSystemPrompt, instruction, sideContext, sessionID, model, true)
}

func (s *Service) blockingCall(ctx context.Context, systemPrompt, question, sideContext, sessionID, model string, stripFence bool) (string, error) {
	mu := s.store.CallLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	userContent, includeCtx := s.composeUserContent(sessionID, question, sideContext)
	msgs := s.builder.BuildMinimalMessages(sessionID, systemPrompt, userContent)
	opts := s.buildOptions(sessionID, model)

	var result *provider.Result
	err := s.retry.Do(ctx, func(ctx context.Context, tier string) error {
		opts.Tier = tier
		r, callErr := s.client.Generate(ctx, msgs, opts)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Error("blocking call failed",
			"session_id", sessionID, "error", redactSecrets(err.Error()))
		return cannedFailureResponse, nil
	}

	s.commitTurn(sessionID, systemPrompt, userContent, result.Text,
		result.Usage, totalMessageChars(msgs), model, sideContext, includeCtx)
	s.rememberSessionRef(sessionID, result.SessionRef)

	if stripFence {
		return stripCodeFence(result.Text), nil
	}
	return result.Text, nil
}

// ── Streaming calls ──────────────────────────────────────────────────────────

// AskStream answers a question within a session, streaming the answer as
// content events. A rate-limited attempt restarts the stream from the
// beginning (after a status event); only the successful attempt is ever
// committed to the session.
func (s *Service) AskStream(ctx context.Context, question, sideContext, sessionID, model string) (<-chan StreamEvent, error) {
	return s.textStream(ctx, s.systemPrompt, question, sideContext, sessionID, model)
}

// GenerateCodeStream is AskStream with the code-generation prompt. The
// fence is not stripped mid-stream; callers wanting bare code use
// GenerateCode.
func (s *Service) GenerateCodeStream(ctx context.Context, instruction, sideContext, sessionID, model string) (<-chan StreamEvent, error) {
	return s.textStream(ctx, codeSystemPrompt, instruction, sideContext, sessionID, model)
}

func (s *Service) textStream(ctx context.Context, systemPrompt, question, sideContext, sessionID, model string) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)

		mu := s.store.CallLock(sessionID)
		mu.Lock()
		defer mu.Unlock()

		userContent, includeCtx := s.composeUserContent(sessionID, question, sideContext)
		msgs := s.builder.BuildMinimalMessages(sessionID, systemPrompt, userContent)
		opts := s.buildOptions(sessionID, model)

		var text strings.Builder
		var usage provider.Usage
		var sessionRef string

		err := s.retry.Do(ctx, func(ctx context.Context, tier string) error {
			if text.Len() > 0 {
				// Partial output from the failed attempt is discarded; the
				// stream restarts from the beginning.
				send(ctx, ch, statusEvent("retrying"))
				text.Reset()
			}
			opts.Tier = tier
			deltas, callErr := s.client.GenerateStream(ctx, msgs, opts)
			if callErr != nil {
				return callErr
			}
			return s.drainDeltas(deltas, &usage, &sessionRef, func(d provider.Delta) {
				switch d.Type {
				case provider.DeltaContent:
					text.WriteString(d.Text)
					send(ctx, ch, contentEvent(d.Text))
				case provider.DeltaReasoning:
					if s.emitReasoning {
						send(ctx, ch, reasoningEvent(d.Text))
					}
				}
			})
		})
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("streaming call failed",
					"session_id", sessionID, "error", redactSecrets(err.Error()))
			}
			send(ctx, ch, errorEvent(redactSecrets(err.Error())))
			return
		}
		if ctx.Err() != nil {
			// Caller went away mid-stream: the turn is never persisted.
			return
		}

		s.commitTurn(sessionID, systemPrompt, userContent, text.String(),
			usage, totalMessageChars(msgs), model, sideContext, includeCtx)
		s.rememberSessionRef(sessionID, sessionRef)
		send(ctx, ch, doneEvent())
	}()
	return ch, nil
}

// AnalyzeQueryStream runs the structured query-analysis call shape:
// status, reasoning events, one final analysis payload, done.
func (s *Service) AnalyzeQueryStream(ctx context.Context, query, sessionID string) (<-chan StreamEvent, error) {
	return s.structuredStream(ctx, "analysis", "analyzing", analysisSystemPrompt, analysisFallbackPayload, query, sessionID)
}

// GeneratePlanStream runs the structured retrieval-plan call shape.
func (s *Service) GeneratePlanStream(ctx context.Context, request, sessionID string) (<-chan StreamEvent, error) {
	return s.structuredStream(ctx, "plan", "planning", planSystemPrompt, planFallbackPayload, request, sessionID)
}

// structuredStream drives one streaming call through the marker parser.
// Each retry attempt gets a fresh parser, so the single final event always
// reflects the attempt that actually succeeded.
func (s *Service) structuredStream(ctx context.Context, kind, status, systemPrompt string, fallback FallbackFunc, query, sessionID string) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)

		mu := s.store.CallLock(sessionID)
		mu.Lock()
		defer mu.Unlock()

		msgs := s.builder.BuildMinimalMessages(sessionID, systemPrompt, query)
		opts := s.buildOptions(sessionID, "")

		if !send(ctx, ch, statusEvent(status)) {
			return
		}

		var final StreamEvent
		var raw strings.Builder
		var usage provider.Usage
		var sessionRef string
		attempt := 0

		err := s.retry.Do(ctx, func(ctx context.Context, tier string) error {
			attempt++
			if attempt > 1 {
				send(ctx, ch, statusEvent("retrying"))
			}
			parser := NewStreamParser(fallback)
			raw.Reset()
			usage = provider.Usage{}

			opts.Tier = tier
			deltas, callErr := s.client.GenerateStream(ctx, msgs, opts)
			if callErr != nil {
				return callErr
			}

			forward := func(events []StreamEvent) {
				for _, ev := range events {
					if ev.Kind == EventFinal {
						final = ev
						continue
					}
					if ev.Kind == EventReasoning && !s.emitReasoning {
						continue
					}
					send(ctx, ch, ev)
				}
			}
			streamErr := s.drainDeltas(deltas, &usage, &sessionRef, func(d provider.Delta) {
				switch d.Type {
				case provider.DeltaContent:
					raw.WriteString(d.Text)
					forward(parser.Feed(d.Text))
				case provider.DeltaReasoning:
					forward(parser.FeedReasoning(d.Text))
				}
			})
			if streamErr != nil {
				return streamErr
			}
			forward(parser.Finish())
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("structured stream failed",
					"session_id", sessionID, "kind", kind, "error", redactSecrets(err.Error()))
			}
			send(ctx, ch, errorEvent(redactSecrets(err.Error())))
			return
		}
		if ctx.Err() != nil {
			return
		}

		if !send(ctx, ch, final) {
			return
		}
		s.commitTurn(sessionID, systemPrompt, query, raw.String(),
			usage, totalMessageChars(msgs), "", "", false)
		s.rememberSessionRef(sessionID, sessionRef)
		s.record(ctx, AnalysisRecord{
			SessionID:    sessionID,
			Kind:         kind,
			Query:        query,
			Payload:      final.Payload,
			Fallback:     final.Fallback,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		})
		send(ctx, ch, doneEvent())
	}()
	return ch, nil
}

// GetSessionStats reports approximate usage for a session id.
func (s *Service) GetSessionStats(sessionID string) SessionStats {
	return s.budget.Stats(sessionID)
}

// ── Internals ────────────────────────────────────────────────────────────────

// send delivers an event unless the caller has gone away. Callers that
// stop consuming must cancel ctx; a false return means the call should be
// abandoned without committing anything.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainDeltas consumes a provider stream to completion (the channel
// contract requires full consumption) and returns the stream error, if any.
// handle is not called for deltas after an error.
func (s *Service) drainDeltas(deltas <-chan provider.Delta, usage *provider.Usage, sessionRef *string, handle func(provider.Delta)) error {
	var streamErr error
	for d := range deltas {
		switch d.Type {
		case provider.DeltaError:
			if streamErr == nil {
				streamErr = d.Err
			}
		case provider.DeltaDone:
			if d.Usage != nil {
				*usage = *d.Usage
			}
			if d.SessionRef != "" {
				*sessionRef = d.SessionRef
			}
		default:
			if streamErr == nil {
				handle(d)
			}
		}
	}
	return streamErr
}

// composeUserContent prepends the side-context blob when it needs to be
// transmitted this turn.
func (s *Service) composeUserContent(sessionID, question, sideContext string) (string, bool) {
	if sideContext == "" || !s.builder.ShouldIncludeSideContext(sessionID, sideContext) {
		return question, false
	}
	return sideContext + "\n\n" + question, true
}

func (s *Service) buildOptions(sessionID, model string) provider.Options {
	return provider.Options{
		Model:      s.modelFor(sessionID, model),
		SessionRef: s.cachedSessionRef(sessionID),
	}
}

// modelFor resolves the model for a call: explicit override, then the
// session's pinned model, then the service default.
func (s *Service) modelFor(sessionID, override string) string {
	if override != "" {
		return override
	}
	if sess, ok := s.store.Lookup(sessionID); ok && sess.Model != "" {
		return sess.Model
	}
	return s.defaultModel
}

// commitTurn persists a completed call: history append with pruning, side
// context hash, model pin and usage counters. Never called for failed or
// abandoned calls.
func (s *Service) commitTurn(sessionID, systemPrompt, userContent, assistantContent string, usage provider.Usage, inputChars int, model, sideContext string, includeCtx bool) {
	s.store.GetOrCreate(sessionID, systemPrompt)
	s.store.PinModel(sessionID, model)
	s.store.AppendAndPrune(sessionID, provider.RoleUser, userContent, s.maxHistoryChars)
	s.store.AppendAndPrune(sessionID, provider.RoleAssistant, assistantContent, s.maxHistoryChars)
	if includeCtx {
		s.builder.RecordContextHash(sessionID, sideContext)
	}
	s.budget.UpdateUsage(sessionID, usage, inputChars, len(assistantContent))
}

func (s *Service) record(ctx context.Context, rec AnalysisRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Warn("analysis bookkeeping failed", "session_id", rec.SessionID, "error", err)
	}
}

// rememberSessionRef caches a provider-side conversation reference, evicting
// the oldest entry once the cache is full.
func (s *Service) rememberSessionRef(sessionID, ref string) {
	if ref == "" {
		return
	}
	s.refMu.Lock()
	defer s.refMu.Unlock()

	if _, ok := s.refs[sessionID]; !ok {
		s.refOrder = append(s.refOrder, sessionID)
		if len(s.refOrder) > sessionRefCacheCap {
			oldest := s.refOrder[0]
			s.refOrder = s.refOrder[1:]
			delete(s.refs, oldest)
		}
	}
	s.refs[sessionID] = ref
}

func (s *Service) cachedSessionRef(sessionID string) string {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refs[sessionID]
}

func totalMessageChars(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total
}

// stripCodeFence unwraps a single Markdown code fence when the whole answer
// is fenced; anything else is returned untouched.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	rest := trimmed[3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:] // drop the language tag line
	}
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return text
	}
	return strings.TrimRight(rest[:end], "\n")
}
