package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kstost/aiexecode/llm"
)

const judgeSystemPrompt = `You are a completion judge for an autonomous coding agent. You observe the
conversation between a user and the agent and decide whether the user's
mission has been fully accomplished.

Respond with a JSON object:
- "should_complete": true only when the mission is demonstrably done, with
  all requested changes made and verified. When in doubt, false.
- "what_user_should_say": if the mission is not done, the single next
  instruction the user would give the agent to make progress. Empty when
  should_complete is true.`

// Judgment is the structured verdict of a completion evaluation.
type Judgment struct {
	ShouldComplete    bool   `json:"should_complete"`
	WhatUserShouldSay string `json:"what_user_should_say"`
}

var judgmentSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"should_complete":      map[string]interface{}{"type": "boolean"},
		"what_user_should_say": map[string]interface{}{"type": "string"},
	},
	"required": []string{"should_complete", "what_user_should_say"},
}

// Judge decides whether the mission is complete. It keeps a transcript of
// its own, separate from the main conversation, synchronized by a
// monotonic cursor so no main-transcript entry is copied twice within one
// evaluation cycle. The transcript and cursor are reset after every
// provider call, so each evaluation sees a freshly synchronized view and
// judge state can never leak between evaluations.
type Judge struct {
	provider   llm.Provider
	model      string
	transcript *Transcript
	cursor     int
	retry      llm.RetryPolicy
	logger     *zap.Logger
}

// NewJudge creates a judge using the given provider and model. Transient
// provider failures are retried with the same policy as the main loop.
func NewJudge(provider llm.Provider, model string, logger *zap.Logger) *Judge {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Judge{
		provider:   provider,
		model:      model,
		transcript: NewTranscript(),
		retry:      llm.DefaultRetryPolicy(),
		logger:     logger,
	}
	j.retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		j.logger.Warn("retrying judge request",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return j
}

// Evaluate syncs the judge transcript from the main conversation and asks
// the judge model for a verdict. The main transcript is never modified.
func (j *Judge) Evaluate(ctx context.Context, main *Transcript) (Judgment, error) {
	defer func() {
		j.transcript = NewTranscript()
		j.cursor = 0
	}()

	if j.transcript.Len() == 0 {
		j.transcript.RefreshSystemEntry(judgeSystemPrompt)
	}

	// Copy main entries past the cursor, excluding the system entry.
	synced := 0
	for _, it := range main.Items() {
		if it.Kind == llm.ItemSystem {
			continue
		}
		if synced < j.cursor {
			synced++
			continue
		}
		j.transcript.Append(it.Clone())
		synced++
	}
	j.cursor = synced

	for {
		if err := ctx.Err(); err != nil {
			return Judgment{}, &llm.AbortError{SDKError: llm.SDKError{Message: "judgment cancelled", Cause: err}}
		}

		req := llm.Request{
			Model: j.model,
			Input: j.transcript.Items(),
			ResponseFormat: &llm.ResponseFormat{
				Type:   "json_schema",
				Name:   "completion_judgment",
				Schema: judgmentSchema,
			},
		}

		resp, err := llm.Retry(ctx, j.retry, func(ctx context.Context) (*llm.Response, error) {
			return j.provider.Respond(ctx, req)
		})
		if err != nil {
			if llm.IsContextOverflow(err) {
				if !j.transcript.Trim() {
					return Judgment{}, fmt.Errorf("judge transcript cannot be trimmed further: %w", err)
				}
				j.logger.Debug("judge transcript trimmed after overflow")
				continue
			}
			return Judgment{}, err
		}

		verdict, err := parseJudgment(resp.OutputText)
		if err != nil {
			return Judgment{}, err
		}
		j.logger.Debug("completion judgment",
			zap.Bool("should_complete", verdict.ShouldComplete))
		return verdict, nil
	}
}

// parseJudgment extracts the verdict JSON, tolerating markdown fences or
// prose around the object.
func parseJudgment(text string) (Judgment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Judgment{}, fmt.Errorf("judge response contains no JSON object: %q", text)
	}
	var verdict Judgment
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return Judgment{}, fmt.Errorf("parse judgment: %w", err)
	}
	return verdict, nil
}
