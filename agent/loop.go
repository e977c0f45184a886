package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kstost/aiexecode/llm"
)

// State is the terminal state of a session run.
type State string

const (
	StateRunning     State = "running"
	StateComplete    State = "complete"
	StateStalled     State = "stalled"
	StateInterrupted State = "interrupted"
	StateError       State = "error"
)

// Config controls session behavior.
type Config struct {
	Model                     string
	JudgeModel                string
	Temperature               *float64
	WorkingDir                string
	HistoryDir                string
	HistoryRetention          int
	MaxIterations             int
	MaxReasoningOnlyResponses int
	CommandTimeoutMs          int
	LoopDetectionWindow       int
	EventBufferSize           int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:             50,
		MaxReasoningOnlyResponses: 5,
		HistoryRetention:          1,
		CommandTimeoutMs:          1_200_000,
		LoopDetectionWindow:       6,
		EventBufferSize:           256,
	}
}

// Result is the outcome of a completed session run.
type Result struct {
	SessionID     string
	State         State
	MissionSolved bool
	Iterations    int
	FinalMessage  string
	Warning       string
}

// Controller drives one agent session: it owns the transcript, the tool
// pipeline, the completion judge, and the persistence store. Each session
// gets its own Controller; nothing is shared between instances.
type Controller struct {
	sessionID  string
	cfg        *Config
	provider   llm.Provider
	env        ExecutionEnvironment
	transcript *Transcript
	guard      *IntegrityGuard
	registry   *Registry
	pipeline   *Pipeline
	judge      *Judge
	store      *Store
	events     *Emitter
	logger     *zap.Logger

	mission   string
	startedAt time.Time
	history   []ToolUsage
	iteration int
}

// NewController builds a session controller. cfg may be nil for defaults.
func NewController(provider llm.Provider, env ExecutionEnvironment, cfg *Config) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxReasoningOnlyResponses <= 0 {
		cfg.MaxReasoningOnlyResponses = 5
	}
	if cfg.CommandTimeoutMs <= 0 {
		cfg.CommandTimeoutMs = 1_200_000
	}
	if cfg.LoopDetectionWindow <= 0 {
		cfg.LoopDetectionWindow = 6
	}
	judgeModel := cfg.JudgeModel
	if judgeModel == "" {
		judgeModel = cfg.Model
	}

	sessionID := uuid.NewString()
	logger := zap.NewNop()
	guard := NewIntegrityGuard()
	transcript := NewTranscript()
	registry := NewRegistry()
	RegisterCoreTools(registry, env, guard, cfg.CommandTimeoutMs)
	events := NewEmitter(sessionID, cfg.EventBufferSize)

	c := &Controller{
		sessionID:  sessionID,
		cfg:        cfg,
		provider:   provider,
		env:        env,
		transcript: transcript,
		guard:      guard,
		registry:   registry,
		pipeline:   NewPipeline(registry, guard, transcript, sessionID, events, logger),
		judge:      NewJudge(provider, judgeModel, logger),
		store:      NewStore(cfg.HistoryDir, cfg.HistoryRetention),
		events:     events,
		logger:     logger,
		startedAt:  time.Now(),
	}
	return c
}

// SetLogger installs a logger on the controller and its components.
func (c *Controller) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
	c.pipeline.logger = logger
	c.judge.logger = logger
}

// SetApprovalFunc installs the approval callback for mutating tools.
func (c *Controller) SetApprovalFunc(fn ApprovalFunc) {
	c.pipeline.SetApprovalFunc(fn)
}

// AlwaysAllow pre-approves tool names, e.g. from configuration.
func (c *Controller) AlwaysAllow(toolNames ...string) {
	c.pipeline.AlwaysAllow(toolNames...)
}

// Registry exposes the tool registry for registering external tools.
func (c *Controller) Registry() *Registry { return c.registry }

// Events returns the session event channel.
func (c *Controller) Events() <-chan SessionEvent { return c.events.Events() }

// SessionID returns the session identifier.
func (c *Controller) SessionID() string { return c.sessionID }

// Resume restores controller state from a stored record so Run continues
// the prior conversation instead of starting fresh.
func (c *Controller) Resume(rec *SessionRecord) {
	c.sessionID = rec.SessionID
	c.mission = rec.Mission
	c.startedAt = rec.StartedAt
	c.iteration = rec.IterationCount
	c.history = append([]ToolUsage(nil), rec.ToolUsageHistory...)
	c.transcript = NewTranscriptFrom(rec.Transcript)
	c.pipeline.transcript = c.transcript
	c.pipeline.sessionID = rec.SessionID
	c.events.sessionID = rec.SessionID
}

// Run drives the session until completion, stall, interruption, error, or
// iteration budget exhaustion. instruction is the user's mission for a
// fresh session, or the follow-up message when resuming.
func (c *Controller) Run(ctx context.Context, instruction string) (Result, error) {
	defer c.events.Close()

	if c.mission == "" {
		c.mission = instruction
	}
	c.events.Emit(EventSessionStart, map[string]interface{}{"mission": c.mission})
	c.logger.Info("session started",
		zap.String("session_id", c.sessionID),
		zap.String("model", c.cfg.Model))

	pending := instruction
	pendingAuto := false
	reasoningOnly := 0
	var finalMessage string
	var result Result

	for c.iteration < c.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return c.finish(StateInterrupted, false, finalMessage, "")
		}
		c.iteration++
		c.events.Emit(EventIterationStart, map[string]interface{}{"iteration": c.iteration})

		tasks := []string{c.mission}
		if pending != "" && pendingAuto {
			tasks = append(tasks, pending)
		}
		c.transcript.RefreshSystemEntry(BuildSystemEntry(c.env, c.cfg.Model, tasks))

		toolChoice := llm.ToolChoiceAuto
		if pending != "" {
			c.transcript.AppendUser(pending, pendingAuto)
			if !pendingAuto {
				c.events.Emit(EventUserInstruction, map[string]interface{}{"text": pending})
			}
			// A fresh instruction always warrants at least one tool call.
			toolChoice = llm.ToolChoiceRequired
			pending = ""
			pendingAuto = false
		}

		c.transcript.CleanupOrphanOutputs()

		resp, err := c.request(ctx, toolChoice)
		if err != nil {
			if llm.IsAbort(err) || ctx.Err() != nil {
				return c.finish(StateInterrupted, false, finalMessage, "")
			}
			c.events.Emit(EventError, map[string]interface{}{"error": err.Error()})
			result, _ = c.finish(StateError, false, finalMessage, "")
			return result, err
		}

		c.transcript.AppendModelOutput(resp)

		toolCalls := resp.ToolCalls()
		message, hasMessage := lastAssistantMessage(resp)
		processable := len(toolCalls) > 0 || hasMessage

		if hasMessage {
			finalMessage = message
			c.events.Emit(EventAssistantMessage, map[string]interface{}{"text": message})
		}

		if len(toolCalls) > 0 {
			reasoningOnly = 0
			for _, call := range toolCalls {
				if err := ctx.Err(); err != nil {
					return c.finish(StateInterrupted, false, finalMessage, "")
				}
				usage, err := c.pipeline.Execute(ctx, call)
				if err != nil {
					return c.finish(StateInterrupted, false, finalMessage, "")
				}
				c.history = append(c.history, usage)
			}
			if DetectLoop(c.transcript.Items(), c.cfg.LoopDetectionWindow) {
				c.logger.Warn("repeating tool call pattern detected")
				c.events.Emit(EventWarning, map[string]interface{}{"warning": "repeating tool call pattern detected"})
				c.transcript.AppendUser("You appear to be repeating the same tool calls without progress. Step back, reassess, and try a different approach.", true)
			}
			continue
		}

		if hasMessage {
			// No tools ran and the model produced a plain message; ask the
			// judge whether the mission is done.
			reasoningOnly = 0
			verdict, err := c.judge.Evaluate(ctx, c.transcript)
			if err != nil {
				if llm.IsAbort(err) || ctx.Err() != nil {
					return c.finish(StateInterrupted, false, finalMessage, "")
				}
				c.events.Emit(EventError, map[string]interface{}{"error": err.Error()})
				result, _ = c.finish(StateError, false, finalMessage, "")
				return result, err
			}
			c.events.Emit(EventJudgment, map[string]interface{}{
				"should_complete": verdict.ShouldComplete,
			})
			c.checkpoint()

			if verdict.ShouldComplete {
				return c.finish(StateComplete, true, finalMessage, "")
			}

			// Not done: the message stays in the model's context but is
			// hidden from the user-visible history, and the judge's
			// suggested instruction drives the next iteration.
			c.transcript.MarkLastAssistantInternal()
			if verdict.WhatUserShouldSay != "" {
				pending = verdict.WhatUserShouldSay
				pendingAuto = true
			}
			continue
		}

		if !processable {
			reasoningOnly++
			if reasoningOnly >= c.cfg.MaxReasoningOnlyResponses {
				warning := fmt.Sprintf("model produced %d consecutive responses with no usable output; treating the mission as complete", reasoningOnly)
				c.events.Emit(EventWarning, map[string]interface{}{"warning": warning})
				return c.finish(StateStalled, true, finalMessage, warning)
			}
			continue
		}
	}

	warning := fmt.Sprintf("iteration budget of %d exhausted before completion", c.cfg.MaxIterations)
	c.events.Emit(EventWarning, map[string]interface{}{"warning": warning})
	return c.finish(StateStalled, false, finalMessage, warning)
}

// request sends the current transcript to the provider, retrying
// transient failures and recovering from context overflow by trimming the
// transcript and resubmitting. The request input is rebuilt after every
// trim so the provider always sees the current transcript.
func (c *Controller) request(ctx context.Context, toolChoice llm.ToolChoice) (*llm.Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, &llm.AbortError{SDKError: llm.SDKError{Message: "request cancelled", Cause: err}}
		}

		req := llm.Request{
			Model:       c.cfg.Model,
			Input:       c.transcript.Items(),
			Tools:       c.registry.Definitions(),
			ToolChoice:  toolChoice,
			Temperature: c.cfg.Temperature,
		}

		resp, err := llm.Retry(ctx, c.retryPolicy(), func(ctx context.Context) (*llm.Response, error) {
			return c.provider.Respond(ctx, req)
		})
		if err == nil {
			return resp, nil
		}
		if !llm.IsContextOverflow(err) {
			return nil, err
		}

		if !c.transcript.Trim() {
			return nil, fmt.Errorf("transcript cannot be trimmed further: %w", err)
		}
		c.transcript.CleanupOrphanOutputs()
		c.events.Emit(EventTranscriptTrim, nil)
		c.logger.Debug("transcript trimmed after context overflow")
	}
}

func (c *Controller) retryPolicy() llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.Warn("provider call retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return policy
}

// checkpoint persists the current session state. Failures are logged and
// otherwise ignored so persistence trouble never aborts a run.
func (c *Controller) checkpoint() {
	if err := c.store.Save(c.record(nil, false)); err != nil {
		c.logger.Warn("session checkpoint failed", zap.Error(err))
	}
}

// finish persists the terminal state and builds the run result.
func (c *Controller) finish(state State, solved bool, finalMessage, warning string) (Result, error) {
	now := time.Now()
	if err := c.store.Save(c.record(&now, solved)); err != nil {
		c.logger.Warn("session save failed", zap.Error(err))
	}
	c.events.Emit(EventSessionEnd, map[string]interface{}{
		"state":          string(state),
		"mission_solved": solved,
	})
	c.logger.Info("session finished",
		zap.String("session_id", c.sessionID),
		zap.String("state", string(state)),
		zap.Bool("mission_solved", solved),
		zap.Int("iterations", c.iteration))
	return Result{
		SessionID:     c.sessionID,
		State:         state,
		MissionSolved: solved,
		Iterations:    c.iteration,
		FinalMessage:  finalMessage,
		Warning:       warning,
	}, nil
}

func (c *Controller) record(completedAt *time.Time, solved bool) SessionRecord {
	return SessionRecord{
		SessionID:        c.sessionID,
		Mission:          c.mission,
		StartedAt:        c.startedAt,
		CompletedAt:      completedAt,
		MissionSolved:    solved,
		IterationCount:   c.iteration,
		ToolUsageHistory: append([]ToolUsage(nil), c.history...),
		Transcript:       c.transcript.Items(),
	}
}

// lastAssistantMessage returns the text of the last assistant item in the
// response, if any. Reasoning items never count.
func lastAssistantMessage(resp *llm.Response) (string, bool) {
	for i := len(resp.Output) - 1; i >= 0; i-- {
		if resp.Output[i].Kind == llm.ItemAssistant && resp.Output[i].Text != "" {
			return resp.Output[i].Text, true
		}
	}
	return "", false
}
