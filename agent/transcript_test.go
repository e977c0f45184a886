package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kstost/aiexecode/llm"
)

func TestRefreshSystemEntryIdempotent(t *testing.T) {
	tr := NewTranscript()
	tr.RefreshSystemEntry("first")
	tr.AppendUser("hello", false)
	tr.RefreshSystemEntry("second")

	items := tr.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Kind != llm.ItemSystem || items[0].Text != "second" {
		t.Errorf("system entry not replaced: %+v", items[0])
	}
	if items[1].Kind != llm.ItemUser {
		t.Errorf("user entry displaced: %+v", items[1])
	}
}

func TestRefreshSystemEntryInsertsWhenAbsent(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("hello", false)
	tr.RefreshSystemEntry("sys")

	items := tr.Items()
	if len(items) != 2 || items[0].Kind != llm.ItemSystem {
		t.Fatalf("system entry not prepended: %+v", items)
	}
}

func TestAppendModelOutputDeepCopies(t *testing.T) {
	resp := &llm.Response{
		Output: []llm.Item{llm.NewToolCallItem("c1", "shell", json.RawMessage(`{"command":"ls"}`))},
	}
	tr := NewTranscript()
	tr.AppendModelOutput(resp)

	// Mutating the response afterwards must not affect the transcript.
	resp.Output[0].ToolCall.Arguments[2] = 'X'

	items := tr.Items()
	if string(items[0].ToolCall.Arguments) != `{"command":"ls"}` {
		t.Errorf("transcript shares memory with response: %s", items[0].ToolCall.Arguments)
	}
}

func TestRecordToolResultBoundsOutput(t *testing.T) {
	tr := NewTranscript()
	rec := ToolResultRecord{
		CallID:   "c1",
		ToolName: "shell",
		Stdout:   strings.Repeat("a", MaxStdoutChars*2),
		Stderr:   strings.Repeat("b", MaxStderrChars*2),
		ExitCode: 0,
	}
	it := tr.RecordToolResult(rec)
	if it == nil {
		t.Fatal("expected an item")
	}

	var payload toolResultPayload
	if err := json.Unmarshal(it.ToolResult.Payload, &payload); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if len(payload.Stdout) > MaxStdoutChars+200 {
		t.Errorf("stdout not bounded: %d chars", len(payload.Stdout))
	}
	if len(payload.Stderr) > MaxStderrChars+200 {
		t.Errorf("stderr not bounded: %d chars", len(payload.Stderr))
	}
	if !strings.Contains(payload.Stdout, "characters omitted") {
		t.Error("stdout missing omission marker")
	}
}

func TestRecordToolResultNoCallID(t *testing.T) {
	tr := NewTranscript()
	if it := tr.RecordToolResult(ToolResultRecord{ToolName: "shell"}); it != nil {
		t.Errorf("expected nil for empty call id, got %+v", it)
	}
	if tr.Len() != 0 {
		t.Errorf("transcript grew: %d", tr.Len())
	}
}

func TestCleanupOrphanOutputs(t *testing.T) {
	tr := NewTranscript()
	tr.RefreshSystemEntry("sys")
	tr.Append(llm.NewToolCallItem("live", "shell", json.RawMessage(`{}`)))
	tr.RecordToolResult(ToolResultRecord{CallID: "live", ToolName: "shell"})
	tr.RecordToolResult(ToolResultRecord{CallID: "dead", ToolName: "shell"})

	removed := tr.CleanupOrphanOutputs()
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	// Every remaining tool_result must pair with a live tool_call.
	live := map[string]bool{}
	for _, it := range tr.Items() {
		if it.Kind == llm.ItemToolCall {
			live[it.CallID()] = true
		}
	}
	for _, it := range tr.Items() {
		if it.Kind == llm.ItemToolResult && !live[it.CallID()] {
			t.Errorf("orphan survived cleanup: %s", it.CallID())
		}
	}
}

func TestTrimRemovesOldestAndPairedEntries(t *testing.T) {
	tr := NewTranscript()
	tr.RefreshSystemEntry("sys")
	tr.Append(llm.NewToolCallItem("c1", "shell", json.RawMessage(`{}`)))
	tr.AppendUser("between", false)
	tr.RecordToolResult(ToolResultRecord{CallID: "c1", ToolName: "shell"})
	tr.AppendUser("after", false)

	if !tr.Trim() {
		t.Fatal("trim should succeed")
	}

	items := tr.Items()
	if items[0].Kind != llm.ItemSystem {
		t.Fatal("system entry must survive trimming")
	}
	for _, it := range items {
		if it.CallID() == "c1" {
			t.Errorf("entry with trimmed call id survived: %+v", it)
		}
	}
	// The unrelated entries stay.
	if len(items) != 3 {
		t.Errorf("expected 3 items (system + 2 user), got %d", len(items))
	}
}

func TestTrimFailsWhenNothingLeft(t *testing.T) {
	tr := NewTranscript()
	tr.RefreshSystemEntry("sys")
	tr.AppendUser("only", false)
	if tr.Trim() {
		t.Error("trim must fail with two entries")
	}
	if tr.Len() != 2 {
		t.Errorf("failed trim must not modify the transcript: %d", tr.Len())
	}
}

func TestTrimNeverRemovesSystemEntry(t *testing.T) {
	tr := NewTranscript()
	tr.RefreshSystemEntry("sys")
	for i := 0; i < 5; i++ {
		tr.AppendUser("msg", false)
	}
	for tr.Trim() {
	}
	items := tr.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items after exhaustive trimming, got %d", len(items))
	}
	if items[0].Kind != llm.ItemSystem {
		t.Error("system entry removed by trimming")
	}
}

func TestMarkLastAssistantInternal(t *testing.T) {
	tr := NewTranscript()
	tr.Append(llm.NewAssistantItem("first"))
	tr.Append(llm.NewAssistantItem("second"))
	tr.MarkLastAssistantInternal()

	items := tr.Items()
	if items[0].Internal {
		t.Error("first assistant item wrongly marked")
	}
	if !items[1].Internal {
		t.Error("last assistant item not marked internal")
	}
}

func TestRecordToolResultBoundsResultStrings(t *testing.T) {
	tr := NewTranscript()
	huge := strings.Repeat("r", 120_000)

	it := tr.RecordToolResult(ToolResultRecord{
		CallID:   "call-1",
		ToolName: "read_file",
		Result: map[string]interface{}{
			"operation_successful": true,
			"content":              huge,
		},
	})
	if it == nil {
		t.Fatal("expected a recorded item")
	}

	var payload struct {
		Result map[string]interface{} `json:"result"`
	}
	if err := json.Unmarshal(it.ToolResult.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	content, _ := payload.Result["content"].(string)
	if len(content) > 50_000+200 {
		t.Errorf("content is %d chars, expected it capped at the read_file limit", len(content))
	}
	if !strings.Contains(content, "characters omitted") {
		t.Error("expected an omission marker in the capped content")
	}
	if payload.Result["operation_successful"] != true {
		t.Errorf("non-string values must pass through: %v", payload.Result)
	}
}
