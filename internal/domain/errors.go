package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure. The solve loop only ever sees
// one of these; transient causes are retried inside the stage itself.
type ErrorKind string

const (
	KindFetch          ErrorKind = "FetchError"
	KindExtraction     ErrorKind = "ExtractionError"
	KindPlanning       ErrorKind = "PlanningError"
	KindExecution      ErrorKind = "ExecutionFailure"
	KindSubmission     ErrorKind = "SubmissionError"
	KindAuthentication ErrorKind = "AuthenticationError"
	KindDeadline       ErrorKind = "DeadlineExceeded"
	KindCycle          ErrorKind = "CycleDetected"
)

// StageError wraps a stage failure with its kind and whether another
// attempt at the same stage could plausibly succeed.
type StageError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a transient stage failure.
func Retryable(kind ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Retryable: true, Err: err}
}

// Fatal wraps err as a stage failure that retrying cannot fix.
func Fatal(kind ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Retryable: false, Err: err}
}

// IsRetryable reports whether err allows another try of the same stage.
// Errors without a StageError in their chain are treated as retryable,
// matching how plain network errors surface from the std library.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// KindOf extracts the error kind from err, or empty when untagged.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
