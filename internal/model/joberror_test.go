package model

import (
	"strings"
	"testing"
)

func TestNewJobErrorKnownCodes(t *testing.T) {
	for _, code := range []string{
		ErrCodeInvalidInput,
		ErrCodeProcessingFailed,
		ErrCodeAIModelError,
		ErrCodeStorageError,
		ErrCodeTimeout,
		ErrCodeCancelled,
		ErrCodeUnknown,
	} {
		je := NewJobError(code, "pipeline")
		if je.Code != code {
			t.Errorf("code %s: got %s", code, je.Code)
		}
		if je.Message == "" {
			t.Errorf("code %s: empty message", code)
		}
		if je.IsRetryable {
			t.Errorf("code %s: IsRetryable must be false", code)
		}
		if je.Timestamp.IsZero() {
			t.Errorf("code %s: zero timestamp", code)
		}
	}
}

func TestNewJobErrorUnknownCodeFallsBack(t *testing.T) {
	je := NewJobError("SOMETHING_NEW", "upload")
	if je.Code != ErrCodeUnknown {
		t.Errorf("got code %s, want %s", je.Code, ErrCodeUnknown)
	}
	if je.Message != ClientMessage(ErrCodeUnknown) {
		t.Errorf("got message %q", je.Message)
	}
	if je.Step != "upload" {
		t.Errorf("step not preserved: %q", je.Step)
	}
}

// Client messages must never leak implementation detail: no exception
// prefixes, stack fragments, or internal timeout values.
func TestClientMessagesAreSanitized(t *testing.T) {
	forbidden := []string{"Error:", "Exception", "panic", "goroutine", "600", "timeout_seconds"}
	for _, code := range ErrorCodes() {
		msg := ClientMessage(code)
		for _, frag := range forbidden {
			if strings.Contains(msg, frag) {
				t.Errorf("message for %s contains %q: %q", code, frag, msg)
			}
		}
	}
}

func TestClientMessageUnknownCode(t *testing.T) {
	if ClientMessage("NOPE") != ClientMessage(ErrCodeUnknown) {
		t.Error("unrecognized code should map to the unknown message")
	}
}
