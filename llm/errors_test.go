package llm

import "testing"

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{413, false},
		{429, true},
		{500, true},
		{503, true},
		{418, true}, // unknown defaults to retryable
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "boom", "test", nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, got)
		}
	}
}

func TestIsContextOverflow(t *testing.T) {
	overflow := ErrorFromStatusCode(413, "too big", "test", nil)
	if !IsContextOverflow(overflow) {
		t.Error("413 should classify as context overflow")
	}
	if IsRetryable(overflow) {
		t.Error("context overflow must not be retryable as-is")
	}

	server := ErrorFromStatusCode(500, "oops", "test", nil)
	if IsContextOverflow(server) {
		t.Error("500 should not classify as context overflow")
	}
	if IsContextOverflow(nil) {
		t.Error("nil should not classify as context overflow")
	}
}

func TestIsAbort(t *testing.T) {
	abort := &AbortError{SDKError: SDKError{Message: "cancelled"}}
	if !IsAbort(abort) {
		t.Error("AbortError should classify as abort")
	}
	if IsRetryable(abort) {
		t.Error("abort must not be retried")
	}
	if IsAbort(ErrorFromStatusCode(500, "oops", "test", nil)) {
		t.Error("server error should not classify as abort")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := ErrorFromStatusCode(429, "slow down", "openai", nil)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
	rl, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected *RateLimitError, got %T", err)
	}
	if rl.Provider != "openai" || rl.StatusCode != 429 {
		t.Errorf("unexpected fields: %+v", rl.ProviderError)
	}
}
