package llm

import (
	"context"
	"sync"
)

// ScriptedStep is one queued provider turn: either a response or an error.
type ScriptedStep struct {
	Response *Response
	Err      error
}

// ScriptedProvider is an in-memory Provider that replays a fixed script of
// responses. It records every request it receives, which lets tests assert
// on transcript contents, tool choice, and call counts.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []ScriptedStep
	requests []Request
}

// NewScriptedProvider creates a provider that replays the given steps in
// order. Once the script is exhausted, further calls return a ServerError.
func NewScriptedProvider(steps ...ScriptedStep) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Name returns the provider identifier.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Respond pops the next scripted step.
func (p *ScriptedProvider) Respond(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return nil, &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "scripted provider exhausted"},
			Provider: "scripted",
		}}
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Append queues additional steps after any remaining ones.
func (p *ScriptedProvider) Append(steps ...ScriptedStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

// Requests returns a copy of every request received so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns how many times Respond has been invoked.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// TextResponse builds a response containing a single assistant message.
func TextResponse(text string) *Response {
	return &Response{
		ID:         "resp_text",
		Output:     []Item{NewAssistantItem(text)},
		OutputText: text,
	}
}

// ToolCallResponse builds a response containing a single tool call.
func ToolCallResponse(callID, name, args string) *Response {
	return &Response{
		ID:     "resp_tool",
		Output: []Item{NewToolCallItem(callID, name, []byte(args))},
	}
}

// OverflowError builds a ContextLengthError for trim-path tests.
func OverflowError() error {
	return &ContextLengthError{ProviderError: ProviderError{
		SDKError:   SDKError{Message: "context length exceeded"},
		Provider:   "scripted",
		StatusCode: 413,
	}}
}
