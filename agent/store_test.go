package agent

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kstost/aiexecode/llm"
)

func sampleRecord(id string) SessionRecord {
	completed := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)
	return SessionRecord{
		SessionID:      id,
		Mission:        "create hello.txt",
		StartedAt:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		CompletedAt:    &completed,
		MissionSolved:  true,
		IterationCount: 2,
		ToolUsageHistory: []ToolUsage{
			{
				ToolName:  "write_file",
				Arguments: json.RawMessage(`{"file_path":"hello.txt","content":"hi"}`),
				Result:    ExecOutput{Stdout: "", Stderr: "", ExitCode: 0},
				Timestamp: time.Date(2026, 8, 25, 12, 15, 0, 0, time.UTC),
				FileSnapshot: &Snapshot{
					Content:   "previous content",
					Timestamp: time.Date(2026, 8, 25, 12, 14, 0, 0, time.UTC),
				},
			},
		},
		Transcript: []llm.Item{
			llm.NewSystemItem("system"),
			llm.NewUserItem("create hello.txt"),
			llm.NewToolCallItem("c1", "write_file", json.RawMessage(`{"file_path":"hello.txt"}`)),
			llm.NewToolResultItem("c1", json.RawMessage(`{"tool_name":"write_file","exit_code":0}`)),
			llm.NewAssistantItem("done"),
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), 3)
	rec := sampleRecord("s1")

	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Find("s1")
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(rec, *loaded); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestStoreUpsertReplacesSameSession(t *testing.T) {
	store := NewStore(t.TempDir(), 3)
	rec := sampleRecord("s1")
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	rec.IterationCount = 7
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	records, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after upsert, got %d", len(records))
	}
	if records[0].IterationCount != 7 {
		t.Errorf("record not replaced: %d", records[0].IterationCount)
	}
}

func TestStoreRetentionCap(t *testing.T) {
	store := NewStore(t.TempDir(), 2)
	for i := 0; i < 5; i++ {
		if err := store.Save(sampleRecord(fmt.Sprintf("s%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	records, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SessionID != "s3" || records[1].SessionID != "s4" {
		t.Errorf("wrong survivors: %s, %s", records[0].SessionID, records[1].SessionID)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(t.TempDir(), 1)
	records, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Errorf("expected empty store, got %d records", len(records))
	}
}

func TestReconstructEventLogOrder(t *testing.T) {
	rec := sampleRecord("s1")
	log := ReconstructEventLog(rec)

	kinds := make([]string, len(log))
	for i, ev := range log {
		kinds[i] = ev.Kind
	}
	want := []string{"user", "tool_start", "tool_result", "assistant"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("wrong event order:\n%s", diff)
	}

	if log[1].ToolName != "write_file" || log[2].ToolName != "write_file" {
		t.Error("tool result not paired with its call name")
	}
	if log[1].CallID != "c1" || log[2].CallID != "c1" {
		t.Error("call ids not preserved")
	}
}
