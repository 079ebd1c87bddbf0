package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIClient implements Client for all OpenAI-compatible APIs, including
// OpenAI itself, DeepSeek, Qwen and other chat-completions endpoints.
type OpenAIClient struct {
	client  openai.Client
	model   string
	name    string
	baseURL string
}

// NewOpenAIClient builds a client for an OpenAI-compatible endpoint. A zero
// timeout keeps the SDK default. The provider name is derived from the base
// URL so logs distinguish compatible vendors.
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	name := "openai"
	if baseURL != "" {
		switch {
		case strings.Contains(baseURL, "deepseek"):
			name = "deepseek"
		case strings.Contains(baseURL, "dashscope"):
			name = "qwen"
		case strings.Contains(baseURL, "groq"):
			name = "groq"
		}
	}

	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		name:    name,
		baseURL: baseURL,
	}
}

func (c *OpenAIClient) Name() string         { return c.name }
func (c *OpenAIClient) DefaultModel() string { return c.model }

func (c *OpenAIClient) ContextWindow(model string) int {
	if model == "" {
		model = c.model
	}
	switch {
	case strings.Contains(model, "gpt-4o"):
		return 128000
	case strings.Contains(model, "gpt-4"):
		return 128000
	case strings.Contains(model, "o1"), strings.Contains(model, "o3"):
		return 200000
	case strings.Contains(model, "deepseek"):
		return 64000
	default:
		return 128000
	}
}

func (c *OpenAIClient) buildParams(messages []Message, opts Options) openai.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if opts.Tier != "" {
		params.ServiceTier = openai.ChatCompletionNewParamsServiceTier(opts.Tier)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	return params
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(messages, opts))
	if err != nil {
		return nil, c.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &TransportError{Err: fmt.Errorf("openai: empty choices in response")}
	}
	return &Result{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *OpenAIClient) GenerateStream(ctx context.Context, messages []Message, opts Options) (<-chan Delta, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(messages, opts))

	ch := make(chan Delta, 16)
	go c.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the OpenAI SSE stream and emits unified deltas.
//
// Reasoning models on OpenAI-compatible endpoints (DeepSeek and friends)
// deliver thinking text in a "reasoning_content" field that is not part of
// the SDK struct; it is extracted from the raw chunk JSON and re-emitted as
// DeltaReasoning so it stays out of the visible content stream.
func (c *OpenAIClient) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- Delta) {
	defer close(ch)

	var usage Usage

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Delta{Type: DeltaError, Err: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			// Final chunk may only carry usage.
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage = Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content == "" {
			if rc := extractReasoningContent(delta.RawJSON()); rc != "" {
				ch <- Delta{Type: DeltaReasoning, Text: rc}
				continue
			}
		}

		if delta.Content != "" {
			ch <- Delta{Type: DeltaContent, Text: delta.Content}
		}

		if string(choice.FinishReason) != "" {
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage = Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			ch <- Delta{Type: DeltaDone, Usage: &usage}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Delta{Type: DeltaError, Err: c.wrapErr(err)}
		return
	}

	ch <- Delta{Type: DeltaDone, Usage: &usage}
}

// wrapErr classifies an SDK error into the core error taxonomy.
func (c *OpenAIClient) wrapErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode, err)
	}
	return classifyStatus(0, err)
}

// extractReasoningContent parses the raw JSON of a delta chunk to find a
// "reasoning_content" field. Returns empty string when absent.
func extractReasoningContent(rawJSON string) string {
	var raw struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &raw); err != nil {
		return ""
	}
	return raw.ReasoningContent
}
