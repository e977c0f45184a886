package llm

import "context"

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ToolDefinition describes a tool for the model (serializable metadata).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// ResponseFormat constrains the model's output, used for structured
// judgment calls.
type ResponseFormat struct {
	Type   string                 `json:"type"` // "text" or "json_schema"
	Name   string                 `json:"name,omitempty"`
	Schema map[string]interface{} `json:"json_schema,omitempty"`
}

// Request is the input to a provider round trip. Input is the full
// transcript for the session, starting with exactly one system item.
type Request struct {
	Model          string          `json:"model"`
	Input          []Item          `json:"input"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolChoice     ToolChoice      `json:"tool_choice,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response is the provider's reply: an ordered list of output items plus
// the concatenated plain text of any assistant messages.
type Response struct {
	ID         string `json:"id"`
	Output     []Item `json:"output"`
	OutputText string `json:"output_text"`
}

// ToolCalls extracts every tool_call item from the response output,
// preserving order.
func (r *Response) ToolCalls() []ToolCallItem {
	var calls []ToolCallItem
	for _, it := range r.Output {
		if it.Kind == ItemToolCall && it.ToolCall != nil {
			calls = append(calls, *it.ToolCall)
		}
	}
	return calls
}

// Provider is the opaque model backend. Respond must honor ctx
// cancellation: an aborted context returns promptly with ctx.Err() (or an
// AbortError wrapping it) rather than blocking on the transport.
type Provider interface {
	Name() string
	Respond(ctx context.Context, req Request) (*Response, error)
}
