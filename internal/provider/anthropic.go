package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicClient implements Client using the Anthropic native API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds a client for the Anthropic native API. A zero
// timeout keeps the SDK default.
func NewAnthropicClient(apiKey, model string, timeout time.Duration) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, anthropicoption.WithRequestTimeout(timeout))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (c *AnthropicClient) Name() string         { return "anthropic" }
func (c *AnthropicClient) DefaultModel() string { return c.model }

// ContextWindow: all current Claude models share a 200k window.
func (c *AnthropicClient) ContextWindow(model string) int { return 200000 }

// buildParams splits the unified message list into Anthropic's separate
// system field and user/assistant turns. The processing tier is ignored:
// Anthropic has no per-request tier selection.
func (c *AnthropicClient) buildParams(messages []Message, opts Options) anthropic.MessageNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	return params
}

func (c *AnthropicClient) Generate(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(messages, opts))
	if err != nil {
		return nil, c.wrapErr(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Result{
		Text: sb.String(),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (c *AnthropicClient) GenerateStream(ctx context.Context, messages []Message, opts Options) (<-chan Delta, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(messages, opts))

	ch := make(chan Delta, 16)
	go c.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the Anthropic SSE stream and emits unified deltas.
//
// Anthropic streaming event sequence:
//   - ContentBlockDeltaEvent (TextDelta)     -> DeltaContent
//   - ContentBlockDeltaEvent (ThinkingDelta) -> DeltaReasoning
//   - MessageDeltaEvent                      -> DeltaDone with usage
func (c *AnthropicClient) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- Delta) {
	defer close(ch)
	defer stream.Close()

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Delta{Type: DeltaError, Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ch <- Delta{Type: DeltaContent, Text: d.Text}
			case anthropic.ThinkingDelta:
				ch <- Delta{Type: DeltaReasoning, Text: d.Thinking}
			}

		case anthropic.MessageDeltaEvent:
			ch <- Delta{
				Type: DeltaDone,
				Usage: &Usage{
					InputTokens:  int(variant.Usage.InputTokens),
					OutputTokens: int(variant.Usage.OutputTokens),
				},
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Delta{Type: DeltaError, Err: c.wrapErr(err)}
		return
	}

	ch <- Delta{Type: DeltaDone, Usage: &Usage{}}
}

// wrapErr classifies an SDK error into the core error taxonomy.
func (c *AnthropicClient) wrapErr(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode, fmt.Errorf("anthropic: %w", err))
	}
	return classifyStatus(0, err)
}
