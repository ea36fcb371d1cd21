package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrNetwork, "upstream unreachable").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("gemini")

	if GetErrorCode(err) != ErrNetwork {
		t.Fatalf("expected code %s, got %s", ErrNetwork, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_TaskIDCarried(t *testing.T) {
	t.Parallel()

	err := NewError(ErrTimeout, "task did not finish").WithTaskID("task-123")
	if err.TaskID != "task-123" {
		t.Fatalf("expected task id to be carried, got %q", err.TaskID)
	}
}

func TestIsRetryable_PlainError(t *testing.T) {
	t.Parallel()

	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors must not be retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no code")
	}
}
