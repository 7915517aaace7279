package convo

import (
	"errors"
	"fmt"
)

// EvalError is the explicit result type for a failed evaluation attempt.
// Retryable drives the scheduler's backoff logic; control flow is data,
// not exception-type matching.
type EvalError struct {
	Key       string
	Retryable bool
	Err       error
}

func (e *EvalError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("evaluation of %s failed (%s): %v", e.Key, kind, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Retry wraps err as a retryable evaluation failure for key.
func Retry(key string, err error) *EvalError {
	return &EvalError{Key: key, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable evaluation failure for key.
func Permanent(key string, err error) *EvalError {
	return &EvalError{Key: key, Retryable: false, Err: err}
}

// IsRetryable reports whether err carries a retryable EvalError. Errors
// that are not EvalErrors at all (raw classifier/store failures) are
// treated as retryable: transient collaborator failure is the common case.
func IsRetryable(err error) bool {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return true
}

// NotFoundError reports a conversation key with no stored record.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conversation %s not found", e.Key)
}

// DuplicateMessageError reports an already-recorded message ID. Callers
// treat it as a signal to discard, not as a failure.
type DuplicateMessageError struct {
	MessageID string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("message %s already recorded", e.MessageID)
}

// IsDuplicate reports whether err is a DuplicateMessageError.
func IsDuplicate(err error) bool {
	var de *DuplicateMessageError
	return errors.As(err, &de)
}
