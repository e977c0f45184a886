package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kstost/aiexecode/llm"
)

func newTestController(t *testing.T, provider llm.Provider) (*Controller, string) {
	t.Helper()
	workDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	cfg.WorkingDir = workDir
	cfg.HistoryDir = t.TempDir()
	ctrl := NewController(provider, NewLocalExecutionEnvironment(workDir), cfg)
	return ctrl, workDir
}

func TestRunWriteFileMission(t *testing.T) {
	provider := llm.NewScriptedProvider(
		llm.ScriptedStep{Response: llm.ToolCallResponse("c1", "write_file", `{"file_path":"hello.txt","content":"hello world\n"}`)},
		llm.ScriptedStep{Response: llm.TextResponse("Created hello.txt with the requested content.")},
		llm.ScriptedStep{Response: llm.TextResponse(`{"should_complete": true, "what_user_should_say": ""}`)},
	)
	ctrl, workDir := newTestController(t, provider)

	result, err := ctrl.Run(context.Background(), "create hello.txt containing hello world")
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateComplete {
		t.Errorf("state = %s, want complete", result.State)
	}
	if !result.MissionSolved {
		t.Error("mission not marked solved")
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "hello.txt"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Errorf("wrong content: %q", data)
	}

	// The stored record has exactly one tool usage entry.
	rec, err := NewStore(ctrl.cfg.HistoryDir, 1).Find(result.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.ToolUsageHistory) != 1 {
		t.Fatalf("tool usage history = %d entries, want 1", len(rec.ToolUsageHistory))
	}
	if rec.ToolUsageHistory[0].ToolName != "write_file" {
		t.Errorf("wrong tool recorded: %s", rec.ToolUsageHistory[0].ToolName)
	}
	if !rec.MissionSolved {
		t.Error("stored record not marked solved")
	}
	if rec.CompletedAt == nil {
		t.Error("stored record missing completion time")
	}
}

func TestRunFirstRequestRequiresTool(t *testing.T) {
	provider := llm.NewScriptedProvider(
		llm.ScriptedStep{Response: llm.ToolCallResponse("c1", "list_directory", `{}`)},
		llm.ScriptedStep{Response: llm.TextResponse("Nothing to do.")},
		llm.ScriptedStep{Response: llm.TextResponse(`{"should_complete": true, "what_user_should_say": ""}`)},
	)
	ctrl, _ := newTestController(t, provider)

	if _, err := ctrl.Run(context.Background(), "look around"); err != nil {
		t.Fatal(err)
	}

	reqs := provider.Requests()
	if reqs[0].ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("first request tool choice = %q, want required", reqs[0].ToolChoice)
	}
	if reqs[1].ToolChoice != llm.ToolChoiceAuto {
		t.Errorf("second request tool choice = %q, want auto", reqs[1].ToolChoice)
	}
}

func TestRunJudgeDrivenContinuation(t *testing.T) {
	provider := llm.NewScriptedProvider(
		llm.ScriptedStep{Response: llm.TextResponse("I believe the task is done.")},
		llm.ScriptedStep{Response: llm.TextResponse(`{"should_complete": false, "what_user_should_say": "verify the output first"}`)},
		llm.ScriptedStep{Response: llm.TextResponse("Verified, everything checks out.")},
		llm.ScriptedStep{Response: llm.TextResponse(`{"should_complete": true, "what_user_should_say": ""}`)},
	)
	ctrl, _ := newTestController(t, provider)
	// The first main response has no tool call, so the required tool choice
	// of iteration 1 does not apply here; the script stands in for a model
	// that answered in text anyway.
	result, err := ctrl.Run(context.Background(), "do the thing")
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateComplete || result.Iterations != 2 {
		t.Fatalf("state=%s iterations=%d, want complete/2", result.State, result.Iterations)
	}

	rec, err := NewStore(ctrl.cfg.HistoryDir, 1).Find(result.SessionID)
	if err != nil {
		t.Fatal(err)
	}

	var sawAutoInstruction, sawInternalAssistant bool
	for _, it := range rec.Transcript {
		if it.Kind == llm.ItemUser && it.AutoGenerated && it.Text == "verify the output first" {
			sawAutoInstruction = true
		}
		if it.Kind == llm.ItemAssistant && it.Internal {
			sawInternalAssistant = true
		}
	}
	if !sawAutoInstruction {
		t.Error("synthesized instruction missing from transcript")
	}
	if !sawInternalAssistant {
		t.Error("premature completion message not marked internal")
	}

	// The synthesized instruction drives a required tool choice again.
	reqs := provider.Requests()
	if reqs[2].ToolChoice != llm.ToolChoiceRequired {
		t.Errorf("post-judgment request tool choice = %q, want required", reqs[2].ToolChoice)
	}

	// The display log hides both internal traffic directions.
	for _, ev := range ReconstructEventLog(*rec) {
		if ev.Kind == "user" && ev.Text == "verify the output first" {
			t.Error("auto-generated instruction leaked into display log")
		}
		if ev.Kind == "assistant" && ev.Text == "I believe the task is done." {
			t.Error("internal assistant message leaked into display log")
		}
	}
}

func TestRunStallsOnEmptyResponses(t *testing.T) {
	steps := make([]llm.ScriptedStep, 5)
	for i := range steps {
		steps[i] = llm.ScriptedStep{Response: &llm.Response{ID: "empty"}}
	}
	provider := llm.NewScriptedProvider(steps...)
	ctrl, _ := newTestController(t, provider)

	result, err := ctrl.Run(context.Background(), "do something")
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateStalled {
		t.Errorf("state = %s, want stalled", result.State)
	}
	if !result.MissionSolved {
		t.Error("stall is treated as completion")
	}
	if result.Warning == "" {
		t.Error("stall must carry a warning")
	}
	// The judge was never consulted: all five calls were the main loop.
	if provider.CallCount() != 5 {
		t.Errorf("provider calls = %d, want 5", provider.CallCount())
	}
}

func TestRunInterrupted(t *testing.T) {
	provider := llm.NewScriptedProvider()
	ctrl, _ := newTestController(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := ctrl.Run(ctx, "never starts")
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateInterrupted {
		t.Errorf("state = %s, want interrupted", result.State)
	}
	if result.MissionSolved {
		t.Error("interrupted run must not be solved")
	}
	if provider.CallCount() != 0 {
		t.Errorf("cancelled run still called the provider %d times", provider.CallCount())
	}
}

func TestRunIterationBudgetExhausted(t *testing.T) {
	// Every iteration calls one tool, so the loop never reaches the judge.
	var steps []llm.ScriptedStep
	for i := 0; i < 10; i++ {
		steps = append(steps, llm.ScriptedStep{Response: llm.ToolCallResponse(
			"c"+string(rune('a'+i)), "list_directory", `{"path":"."}`)})
	}
	provider := llm.NewScriptedProvider(steps...)

	workDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	cfg.MaxIterations = 3
	cfg.HistoryDir = t.TempDir()
	ctrl := NewController(provider, NewLocalExecutionEnvironment(workDir), cfg)

	result, err := ctrl.Run(context.Background(), "busy work")
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateStalled {
		t.Errorf("state = %s, want stalled", result.State)
	}
	if result.MissionSolved {
		t.Error("exhausted budget must not be solved")
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Iterations)
	}
}

func TestRunMainTrimRecovery(t *testing.T) {
	provider := llm.NewScriptedProvider(
		llm.ScriptedStep{Response: llm.ToolCallResponse("c1", "list_directory", `{}`)},
		llm.ScriptedStep{Err: llm.OverflowError()},
		llm.ScriptedStep{Response: llm.TextResponse("All done.")},
		llm.ScriptedStep{Response: llm.TextResponse(`{"should_complete": true, "what_user_should_say": ""}`)},
	)
	ctrl, _ := newTestController(t, provider)

	result, err := ctrl.Run(context.Background(), "trim me")
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateComplete {
		t.Fatalf("state = %s, want complete", result.State)
	}

	// The retried request must not contain orphaned tool results.
	reqs := provider.Requests()
	retried := reqs[2]
	live := map[string]bool{}
	for _, it := range retried.Input {
		if it.Kind == llm.ItemToolCall {
			live[it.CallID()] = true
		}
	}
	for _, it := range retried.Input {
		if it.Kind == llm.ItemToolResult && !live[it.CallID()] {
			t.Errorf("orphan tool result in retried request: %s", it.CallID())
		}
	}
}
