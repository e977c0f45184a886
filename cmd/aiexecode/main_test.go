package main

import (
	"errors"
	"testing"

	"github.com/kstost/aiexecode/agent"
)

func TestSessionExitError(t *testing.T) {
	if err := sessionExitError(agent.Result{MissionSolved: true}); err != nil {
		t.Errorf("solved mission must exit clean: %v", err)
	}
	if err := sessionExitError(agent.Result{MissionSolved: false}); !errors.Is(err, errMissionUnsolved) {
		t.Errorf("unsolved mission must return the sentinel, got %v", err)
	}
}
