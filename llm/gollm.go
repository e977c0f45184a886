package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProvider wraps a gollm.LLM instance and implements Provider. It
// translates between the transcript item protocol and gollm's prompt API.
type GollmProvider struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the provider.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmProvider creates a provider backed by gollm. If no API key is
// given, gollm reads it from the conventional environment variables.
func NewGollmProvider(provider string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-5"
		default:
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by the caller
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llmInst, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmProvider{
		provider: provider,
		llm:      llmInst,
		model:    model,
	}, nil
}

// Name returns the provider identifier.
func (p *GollmProvider) Name() string {
	return p.provider
}

// Respond sends the transcript to the model and returns its output items.
func (p *GollmProvider) Respond(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}

	prompt := p.translateRequest(req)

	if req.Model != "" {
		p.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		p.llm.SetOption("temperature", *req.Temperature)
	}

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return nil, p.translateError(err)
	}

	return p.buildResponse(text), nil
}

// translateRequest flattens the transcript into a gollm Prompt. System
// items become the system prompt; the rest are rendered as tagged lines so
// the model sees the full conversation.
func (p *GollmProvider) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var parts []string

	for _, it := range req.Input {
		switch it.Kind {
		case ItemSystem:
			systemPrompt += it.Text + "\n"
		case ItemUser:
			parts = append(parts, it.Text)
		case ItemAssistant:
			if it.Text != "" {
				parts = append(parts, "[Assistant]: "+it.Text)
			}
		case ItemToolCall:
			if it.ToolCall != nil {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s %s",
					it.ToolCall.CallID, it.ToolCall.Name, string(it.ToolCall.Arguments)))
			}
		case ItemToolResult:
			if it.ToolResult != nil {
				parts = append(parts, fmt.Sprintf("[Tool Result %s]: %s",
					it.ToolResult.CallID, string(it.ToolResult.Payload)))
			}
		case ItemReasoning:
			// Opaque; never replayed to the provider as text.
		}
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema" {
		if schema, err := json.Marshal(req.ResponseFormat.Schema); err == nil {
			parts = append(parts, "Respond with a single JSON object matching this schema and nothing else:\n"+string(schema))
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Continue."
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	if req.ToolChoice != "" {
		promptOpts = append(promptOpts, gollm.WithToolChoice(string(req.ToolChoice)))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// buildResponse converts generated text into output items, extracting any
// embedded tool-call JSON.
func (p *GollmProvider) buildResponse(text string) *Response {
	var output []Item
	toolCalls := parseToolCalls(text)

	cleaned := removeToolCallJSON(text, toolCalls)
	if cleaned != "" {
		output = append(output, NewAssistantItem(cleaned))
	}
	for _, tc := range toolCalls {
		output = append(output, Item{Kind: ItemToolCall, ToolCall: &tc})
	}
	if len(output) == 0 {
		output = append(output, NewAssistantItem(text))
		cleaned = text
	}

	return &Response{
		ID:         "resp_" + uuid.New().String()[:8],
		Output:     output,
		OutputText: cleaned,
	}
}

// parseToolCalls attempts to extract tool calls embedded as JSON in the
// response text.
func parseToolCalls(text string) []ToolCallItem {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var calls []ToolCallItem
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err == nil {
		for _, rc := range rawCalls {
			calls = append(calls, ToolCallItem{
				CallID:    "call_" + uuid.New().String()[:8],
				Name:      rc.Name,
				Arguments: rc.Arguments,
			})
		}
	}
	return calls
}

// removeToolCallJSON strips parsed tool call JSON from the text.
func removeToolCallJSON(text string, calls []ToolCallItem) string {
	if len(calls) == 0 {
		return strings.TrimSpace(text)
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = result[:idx]
		}
	}
	return strings.TrimSpace(result)
}

// translateError converts a gollm error into the typed error hierarchy.
func (p *GollmProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	base := ProviderError{
		SDKError: SDKError{Message: msg, Cause: err},
		Provider: p.provider,
	}

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		base.StatusCode = 401
		return &AuthenticationError{ProviderError: base}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		base.StatusCode = 403
		return &AccessDeniedError{ProviderError: base}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "context_length") ||
		strings.Contains(msgLower, "too many tokens") || strings.Contains(msgLower, "maximum context"):
		base.StatusCode = 413
		return &ContextLengthError{ProviderError: base}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		base.StatusCode = 429
		base.Retryable = true
		return &RateLimitError{ProviderError: base}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		base.StatusCode = 500
		base.Retryable = true
		return &ServerError{ProviderError: base}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	default:
		base.Retryable = true
		return &base
	}
}
