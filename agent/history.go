package agent

import (
	"encoding/json"
	"time"

	"github.com/kstost/aiexecode/llm"
)

// ExecOutput is the normalized result of one executed tool call.
type ExecOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ToolUsage is a durable history entry, appended once per executed tool
// call and never mutated after creation. It is persisted with the session.
type ToolUsage struct {
	ToolName     string          `json:"tool_name"`
	Arguments    json.RawMessage `json:"arguments"`
	Result       ExecOutput      `json:"result"`
	Timestamp    time.Time       `json:"timestamp"`
	FileSnapshot *Snapshot       `json:"file_snapshot,omitempty"`
}

// DisplayEvent is one entry of the reconstructed, display-ready event log.
type DisplayEvent struct {
	Kind     string `json:"kind"` // "user", "assistant", "tool_start", "tool_result"
	Text     string `json:"text,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// ReconstructEventLog rebuilds the display-ready log from a stored session
// record: one tool_start/tool_result pair per recorded tool call and one
// assistant/user entry per non-internal message, in original order.
// Auto-generated user instructions are runtime-synthesized and excluded.
func ReconstructEventLog(rec SessionRecord) []DisplayEvent {
	var log []DisplayEvent
	callNames := make(map[string]string)

	for _, it := range rec.Transcript {
		switch it.Kind {
		case llm.ItemUser:
			if it.AutoGenerated {
				continue
			}
			log = append(log, DisplayEvent{Kind: "user", Text: it.Text})
		case llm.ItemAssistant:
			if it.Internal {
				continue
			}
			log = append(log, DisplayEvent{Kind: "assistant", Text: it.Text})
		case llm.ItemToolCall:
			if it.ToolCall == nil {
				continue
			}
			callNames[it.ToolCall.CallID] = it.ToolCall.Name
			log = append(log, DisplayEvent{
				Kind:     "tool_start",
				ToolName: it.ToolCall.Name,
				CallID:   it.ToolCall.CallID,
				Payload:  string(it.ToolCall.Arguments),
			})
		case llm.ItemToolResult:
			if it.ToolResult == nil {
				continue
			}
			log = append(log, DisplayEvent{
				Kind:     "tool_result",
				ToolName: callNames[it.ToolResult.CallID],
				CallID:   it.ToolResult.CallID,
				Payload:  string(it.ToolResult.Payload),
			})
		}
	}
	return log
}
