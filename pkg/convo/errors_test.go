package convo

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("boom")

	if !IsRetryable(Retry("c1", base)) {
		t.Error("Retry() should be retryable")
	}
	if IsRetryable(Permanent("c1", base)) {
		t.Error("Permanent() should not be retryable")
	}
	// Raw errors from collaborators default to retryable.
	if !IsRetryable(base) {
		t.Error("plain error should default to retryable")
	}
	// Wrapped EvalErrors are still discriminated.
	wrapped := fmt.Errorf("evaluate: %w", Permanent("c1", base))
	if IsRetryable(wrapped) {
		t.Error("wrapped permanent error should not be retryable")
	}
}

func TestEvalErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Retry("c1", base)
	if !errors.Is(err, base) {
		t.Error("EvalError should unwrap to its cause")
	}
}

func TestIsDuplicate(t *testing.T) {
	err := fmt.Errorf("append: %w", &DuplicateMessageError{MessageID: "m1"})
	if !IsDuplicate(err) {
		t.Error("wrapped DuplicateMessageError should be detected")
	}
	if IsDuplicate(errors.New("boom")) {
		t.Error("plain error should not look like a duplicate")
	}
}

func TestNotFoundErrorAs(t *testing.T) {
	err := fmt.Errorf("get: %w", &NotFoundError{Key: "c1"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatal("wrapped NotFoundError should be detected")
	}
	if nf.Key != "c1" {
		t.Errorf("Key = %q, want c1", nf.Key)
	}
}
