package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kstost/aiexecode/llm"
)

// Decision is the answer to an approval prompt.
type Decision string

const (
	DecisionDeny        Decision = "deny"
	DecisionAllowOnce   Decision = "allow_once"
	DecisionAllowAlways Decision = "allow_always"
)

// ApprovalFunc asks the user whether a tool call may run. A nil
// ApprovalFunc on the pipeline approves everything once.
type ApprovalFunc func(toolName string, args json.RawMessage) Decision

// Pipeline runs a single tool call through the fixed invocation stages:
// snapshot capture, pre-validation, approval, dispatch, recording. The
// stage order never varies; in particular snapshot capture happens before
// the approval prompt so a denied or failed edit still has a snapshot.
type Pipeline struct {
	registry   *Registry
	guard      *IntegrityGuard
	transcript *Transcript
	approve    ApprovalFunc
	approved   map[string]struct{}
	sessionID  string
	events     *Emitter
	logger     *zap.Logger
}

// NewPipeline wires a pipeline for one session.
func NewPipeline(registry *Registry, guard *IntegrityGuard, transcript *Transcript, sessionID string, events *Emitter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry:   registry,
		guard:      guard,
		transcript: transcript,
		approved:   make(map[string]struct{}),
		sessionID:  sessionID,
		events:     events,
		logger:     logger,
	}
}

// SetApprovalFunc installs the approval callback.
func (p *Pipeline) SetApprovalFunc(fn ApprovalFunc) { p.approve = fn }

// AlwaysAllow pre-seeds the always-allow cache, e.g. from configuration.
func (p *Pipeline) AlwaysAllow(toolNames ...string) {
	for _, name := range toolNames {
		p.approved[name] = struct{}{}
	}
}

// Execute runs one tool call end to end and returns the durable history
// entry. Operational failures (denial, pre-validation, handler failure,
// unknown tool) are recorded as failed outcomes and a nil error; only a
// cancelled context returns an error.
func (p *Pipeline) Execute(ctx context.Context, call llm.ToolCallItem) (ToolUsage, error) {
	if err := ctx.Err(); err != nil {
		return ToolUsage{}, err
	}

	p.emit(EventToolStart, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.CallID,
	})

	tool := p.registry.Get(call.Name)
	if tool == nil {
		p.logger.Warn("tool unavailable", zap.String("tool", call.Name))
		return p.record(call, nil, Failure(fmt.Sprintf("tool unavailable: %s", call.Name)), nil), nil
	}

	// Stage 1: snapshot capture. For edit-class tools the target file's
	// current content is snapshotted before anything else can reject the
	// call, so the pre-edit state survives denial and validation failure.
	var snapshot *Snapshot
	if tool.Class == ClassEdit && tool.Target != nil {
		if path, ok := tool.Target(call.Arguments); ok {
			if data, err := os.ReadFile(path); err == nil {
				p.guard.SaveSnapshot(path, string(data))
				if s, ok := p.guard.GetSnapshot(path); ok {
					snapshot = &s
				}
			}
		}
	}

	// Stage 2: pre-validation. A deterministically doomed call is failed
	// here without consuming an approval prompt or running the handler.
	if tool.PreValidate != nil {
		if outcome, failed := tool.PreValidate(call.Arguments, p.guard); failed {
			p.logger.Debug("tool call failed pre-validation",
				zap.String("tool", call.Name),
				zap.String("reason", outcome.Message()))
			return p.record(call, tool, outcome, snapshot), nil
		}
	}

	// Stage 3: approval.
	if tool.RequiresApproval() {
		if _, cached := p.approved[call.Name]; !cached {
			decision := DecisionAllowOnce
			if p.approve != nil {
				p.emit(EventApprovalRequest, map[string]interface{}{
					"tool_name": call.Name,
					"arguments": string(call.Arguments),
				})
				decision = p.approve(call.Name, call.Arguments)
				p.emit(EventApprovalDecision, map[string]interface{}{
					"tool_name": call.Name,
					"decision":  string(decision),
				})
			}
			switch decision {
			case DecisionDeny:
				return p.record(call, tool, Failure(fmt.Sprintf("User denied permission to run %s", call.Name)), snapshot), nil
			case DecisionAllowAlways:
				p.approved[call.Name] = struct{}{}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return ToolUsage{}, err
	}

	// Stage 4: dispatch.
	start := time.Now()
	outcome := tool.Handler(ctx, call.Arguments, p.sessionID)
	p.logger.Debug("tool call executed",
		zap.String("tool", call.Name),
		zap.Bool("ok", outcome.OK()),
		zap.Duration("duration", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return ToolUsage{}, err
	}

	// Stage 5: recording.
	return p.record(call, tool, outcome, snapshot), nil
}

// record appends the transcript tool result and builds the history entry.
func (p *Pipeline) record(call llm.ToolCallItem, tool *Tool, outcome Outcome, snapshot *Snapshot) ToolUsage {
	result := ExecOutput{ExitCode: 1}
	if outcome.OK() {
		result = ExecOutput{
			Stdout:   outcome.stringField("stdout"),
			Stderr:   outcome.stringField("stderr"),
			ExitCode: outcome.intField("exit_code"),
		}
	} else {
		result.Stderr = outcome.Message()
	}

	payload := outcome.Payload()
	if tool != nil && tool.Class == ClassExec {
		// Exec output rides in the capped stdout/stderr/exit_code fields;
		// the result object must not carry an untruncated duplicate.
		delete(payload, "stdout")
		delete(payload, "stderr")
		delete(payload, "exit_code")
	}

	rec := ToolResultRecord{
		CallID:   call.CallID,
		ToolName: call.Name,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Result:   payload,
	}
	p.transcript.RecordToolResult(rec)

	p.emit(EventToolResult, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.CallID,
		"ok":        outcome.OK(),
	})

	return ToolUsage{
		ToolName:     call.Name,
		Arguments:    append(json.RawMessage(nil), call.Arguments...),
		Result:       result,
		Timestamp:    time.Now(),
		FileSnapshot: snapshot,
	}
}

func (p *Pipeline) emit(kind EventKind, data map[string]interface{}) {
	if p.events != nil {
		p.events.Emit(kind, data)
	}
}
