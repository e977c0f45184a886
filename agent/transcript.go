package agent

import (
	"encoding/json"
	"sync"

	"github.com/kstost/aiexecode/llm"
)

// Transcript owns the ordered item list exchanged with the model provider
// for one session. All mutation goes through its methods; the session loop
// is the only writer.
type Transcript struct {
	mu    sync.Mutex
	items []llm.Item
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// NewTranscriptFrom restores a transcript from persisted items.
func NewTranscriptFrom(items []llm.Item) *Transcript {
	t := &Transcript{items: make([]llm.Item, 0, len(items))}
	for _, it := range items {
		t.items = append(t.items, it.Clone())
	}
	return t
}

// Items returns a copy of the transcript suitable for a provider request.
func (t *Transcript) Items() []llm.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]llm.Item, len(t.items))
	copy(out, t.items)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Append appends a pre-built item, used when mirroring entries into a
// secondary transcript.
func (t *Transcript) Append(it llm.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, it)
}

// RefreshSystemEntry regenerates the system entry from the given text,
// replacing entry 0 if it is a system item or inserting one if absent.
// Idempotent; safe to call every iteration so external state changes are
// reflected without restarting the transcript.
func (t *Transcript) RefreshSystemEntry(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) > 0 && t.items[0].Kind == llm.ItemSystem {
		t.items[0] = llm.NewSystemItem(text)
		return
	}
	t.items = append([]llm.Item{llm.NewSystemItem(text)}, t.items...)
}

// AppendUser appends a user instruction. autoGenerated marks instructions
// synthesized by the completion judgment, as opposed to genuine input.
func (t *Transcript) AppendUser(text string, autoGenerated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it := llm.NewUserItem(text)
	it.AutoGenerated = autoGenerated
	t.items = append(t.items, it)
}

// AppendModelOutput deep-copies each output item from a provider response
// onto the transcript, preserving order.
func (t *Transcript) AppendModelOutput(resp *llm.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range resp.Output {
		t.items = append(t.items, it.Clone())
	}
}

// MarkLastAssistantInternal flags the most recent assistant message as
// internal-only, excluding it from the user-visible history.
func (t *Transcript) MarkLastAssistantInternal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.items) - 1; i >= 0; i-- {
		if t.items[i].Kind == llm.ItemAssistant {
			t.items[i].Internal = true
			return
		}
	}
}

// ToolResultRecord is the input to RecordToolResult.
type ToolResultRecord struct {
	CallID   string
	ToolName string
	Stdout   string
	Stderr   string
	ExitCode int
	// Result is the structured outcome payload for non-exec tools, or nil.
	Result map[string]interface{}
}

// toolResultPayload is the bounded JSON object recorded on the transcript.
type toolResultPayload struct {
	ToolName string                 `json:"tool_name"`
	Stdout   string                 `json:"stdout"`
	Stderr   string                 `json:"stderr"`
	ExitCode int                    `json:"exit_code"`
	Result   map[string]interface{} `json:"result,omitempty"`
}

// RecordToolResult builds and appends a tool_result entry whose payload is
// bounded: stdout capped at MaxStdoutChars, stderr at MaxStderrChars, and
// every string in the result object at the tool's own limit, all via
// head+tail truncation. Returns nil if the record carries no call id;
// a tool call without one is never eligible for result recording.
func (t *Transcript) RecordToolResult(rec ToolResultRecord) *llm.Item {
	if rec.CallID == "" {
		return nil
	}

	payload := toolResultPayload{
		ToolName: rec.ToolName,
		Stdout:   TruncateMiddle(rec.Stdout, MaxStdoutChars),
		Stderr:   TruncateMiddle(rec.Stderr, MaxStderrChars),
		ExitCode: rec.ExitCode,
		Result:   boundResultStrings(rec.Result, toolResultCharLimit(rec.ToolName)),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// The payload is built from plain strings and maps; a marshal
		// failure here means a handler smuggled in an unserializable
		// value, which the pipeline treats as fatal.
		return nil
	}

	it := llm.NewToolResultItem(rec.CallID, raw)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, it.Clone())
	return &it
}

// CleanupOrphanOutputs removes every tool_result whose call id no longer
// matches a tool_call still present in the transcript, including results
// with no call id at all. Runs before every request dispatch because
// trimming can delete a tool_call while leaving its paired result behind.
// Returns the number of entries removed.
func (t *Transcript) CleanupOrphanOutputs() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make(map[string]bool)
	for _, it := range t.items {
		if it.Kind == llm.ItemToolCall {
			if id := it.CallID(); id != "" {
				live[id] = true
			}
		}
	}

	kept := t.items[:0]
	removed := 0
	for _, it := range t.items {
		if it.Kind == llm.ItemToolResult {
			id := it.CallID()
			if id == "" || !live[id] {
				removed++
				continue
			}
		}
		kept = append(kept, it)
	}
	t.items = kept
	return removed
}

// Trim is the overflow-recovery primitive. It removes the entry at index 1
// (the oldest non-system entry) and, if that entry carried a call id,
// every other entry sharing it, so a tool call and its result are
// co-removed even when not adjacent. Returns false when the transcript has
// two or fewer entries and cannot be trimmed further; that failure is
// fatal upstream.
func (t *Transcript) Trim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.items) <= 2 {
		return false
	}

	victim := t.items[1]
	callID := victim.CallID()

	kept := t.items[:1]
	for i := 2; i < len(t.items); i++ {
		if callID != "" && t.items[i].CallID() == callID {
			continue
		}
		kept = append(kept, t.items[i])
	}
	t.items = kept
	return true
}
