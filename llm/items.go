package llm

import "encoding/json"

// ItemKind discriminates between transcript item types.
type ItemKind string

const (
	ItemSystem     ItemKind = "system"
	ItemUser       ItemKind = "user"
	ItemAssistant  ItemKind = "assistant"
	ItemReasoning  ItemKind = "reasoning"
	ItemToolCall   ItemKind = "tool_call"
	ItemToolResult ItemKind = "tool_result"
)

// ToolCallItem is a model-issued request to invoke a named tool.
type ToolCallItem struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultItem carries the recorded output of an executed tool call.
type ToolResultItem struct {
	CallID  string          `json:"call_id"`
	Payload json.RawMessage `json:"payload"`
}

// Item is a single entry in a transcript. Exactly one of the payload
// fields is set, according to Kind.
type Item struct {
	Kind       ItemKind        `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Reasoning  json.RawMessage `json:"reasoning,omitempty"`
	ToolCall   *ToolCallItem   `json:"tool_call,omitempty"`
	ToolResult *ToolResultItem `json:"tool_result,omitempty"`

	// AutoGenerated marks a user item synthesized by the runtime itself
	// (a continuation instruction), as opposed to genuine user input.
	AutoGenerated bool `json:"auto_generated,omitempty"`
	// Internal marks an assistant item that is excluded from the
	// user-visible history.
	Internal bool `json:"internal,omitempty"`
}

// NewSystemItem creates a system Item.
func NewSystemItem(text string) Item {
	return Item{Kind: ItemSystem, Text: text}
}

// NewUserItem creates a user Item.
func NewUserItem(text string) Item {
	return Item{Kind: ItemUser, Text: text}
}

// NewAssistantItem creates an assistant message Item.
func NewAssistantItem(text string) Item {
	return Item{Kind: ItemAssistant, Text: text}
}

// NewReasoningItem wraps an opaque provider reasoning payload.
func NewReasoningItem(raw json.RawMessage) Item {
	return Item{Kind: ItemReasoning, Reasoning: raw}
}

// NewToolCallItem creates a tool_call Item.
func NewToolCallItem(callID, name string, args json.RawMessage) Item {
	return Item{Kind: ItemToolCall, ToolCall: &ToolCallItem{
		CallID:    callID,
		Name:      name,
		Arguments: args,
	}}
}

// NewToolResultItem creates a tool_result Item.
func NewToolResultItem(callID string, payload json.RawMessage) Item {
	return Item{Kind: ItemToolResult, ToolResult: &ToolResultItem{
		CallID:  callID,
		Payload: payload,
	}}
}

// CallID returns the call identifier carried by a tool_call or
// tool_result item, or "" for every other kind.
func (it Item) CallID() string {
	switch {
	case it.ToolCall != nil:
		return it.ToolCall.CallID
	case it.ToolResult != nil:
		return it.ToolResult.CallID
	}
	return ""
}

// Clone returns a structural copy of the item. Pointer payloads and raw
// JSON are duplicated so the clone shares no mutable state with the
// original.
func (it Item) Clone() Item {
	out := it
	if it.Reasoning != nil {
		out.Reasoning = append(json.RawMessage(nil), it.Reasoning...)
	}
	if it.ToolCall != nil {
		tc := *it.ToolCall
		tc.Arguments = append(json.RawMessage(nil), it.ToolCall.Arguments...)
		out.ToolCall = &tc
	}
	if it.ToolResult != nil {
		tr := *it.ToolResult
		tr.Payload = append(json.RawMessage(nil), it.ToolResult.Payload...)
		out.ToolResult = &tr
	}
	return out
}
