// Package provider defines the unified interface and shared types for all
// upstream completion providers. Each adapter (openai.go, anthropic.go)
// converts the unified request into the vendor's API format and normalizes
// the vendor's streaming response into a unified Delta sequence.
package provider

import "context"

// ── Message types ────────────────────────────────────────────────────────────

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in the conversation history.
type Message struct {
	Role    Role
	Content string
}

// ── Request options ──────────────────────────────────────────────────────────

// Options carries per-call parameters common to all providers.
type Options struct {
	// Model overrides the adapter's default model when non-empty.
	Model string

	// Tier selects the provider-side processing tier for this call.
	// Empty means the provider's default tier.
	Tier string

	// MaxTokens caps the completion length. 0 uses the adapter default.
	MaxTokens int

	Temperature *float64

	// SessionRef is the opaque provider-side conversation reference from a
	// previous call, when the vendor supports one. Adapters that have no
	// such concept ignore it.
	SessionRef string
}

// ── Delta types (streaming output) ───────────────────────────────────────────

type DeltaType int

const (
	// DeltaContent: incremental visible text output.
	DeltaContent DeltaType = iota

	// DeltaReasoning: provider-native reasoning text, delivered out-of-band
	// from the visible content stream.
	DeltaReasoning

	// DeltaDone: end of this call, includes token usage when reported.
	DeltaDone

	// DeltaError: an error occurred; the channel closes after this.
	DeltaError
)

// Delta is the unified streaming fragment emitted by a provider.
type Delta struct {
	Type DeltaType

	// DeltaContent / DeltaReasoning
	Text string

	// DeltaDone
	Usage *Usage

	// DeltaDone: provider-side conversation reference, when reported.
	SessionRef string

	// DeltaError
	Err error
}

// Usage records token consumption for an API call. Zero values mean the
// provider did not report usage and the caller should estimate.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the outcome of a blocking Generate call.
type Result struct {
	Text  string
	Usage Usage

	// SessionRef is the provider-side conversation reference, when the
	// vendor reports one. Empty otherwise.
	SessionRef string
}

// ── Client interface ─────────────────────────────────────────────────────────

// Client is the unified interface for all upstream completion providers.
// Implementors are responsible for:
//  1. Converting messages and Options into the provider's request format
//  2. Normalizing the provider's streaming response into a Delta sequence
//  3. Wrapping provider errors as *RateLimitError / *TransportError so the
//     retry layer can branch on them
type Client interface {
	// Generate performs a blocking completion and returns the full text.
	Generate(ctx context.Context, messages []Message, opts Options) (*Result, error)

	// GenerateStream initiates a streaming completion.
	// The returned channel emits Deltas until DeltaDone or DeltaError, then
	// closes. The caller must fully consume the channel to avoid goroutine
	// leaks.
	GenerateStream(ctx context.Context, messages []Message, opts Options) (<-chan Delta, error)

	// Name returns the provider identifier, e.g. "openai", "anthropic".
	Name() string

	// DefaultModel returns the model used when Options.Model is empty.
	DefaultModel() string

	// ContextWindow returns the context window size for the given model
	// (the adapter default model when model is empty).
	ContextWindow(model string) int
}
