package agent

import (
	"strings"
	"testing"
)

func TestTruncateMiddleShortInput(t *testing.T) {
	if got := TruncateMiddle("hello", 100); got != "hello" {
		t.Errorf("short input modified: %q", got)
	}
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	got := TruncateMiddle(input, 100)

	if !strings.HasPrefix(got, "a") {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(got, "z") {
		t.Error("tail not preserved")
	}
	if !strings.Contains(got, "characters omitted") {
		t.Error("missing omission marker")
	}
	if len(got) > 250 {
		t.Errorf("output too long: %d", len(got))
	}
}

func TestTruncateMiddleExactBoundary(t *testing.T) {
	input := strings.Repeat("x", 100)
	if got := TruncateMiddle(input, 100); got != input {
		t.Errorf("input at the limit must pass unchanged")
	}
}
