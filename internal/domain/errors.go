package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTaskNotClaimed is returned when a task claim cannot be acquired, for
// example when another worker already holds it.
var ErrTaskNotClaimed = errors.New("task not claimed")

// ErrServiceUnknown is a sentinel returned when a requested service name is
// not part of the deployed service set.
var ErrServiceUnknown = errors.New("unknown service")

// ValidationError reports a user-caused request problem: a malformed
// request shape, a requirement conflict between requested services, or
// missing/mismatched payload fields. Always raised before any task is
// queued. Surfaced as HTTP 400.
type ValidationError struct {
	Message string
	Issues  []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Issues, "; ")
}

// NewValidationError builds a ValidationError from a message and issues.
func NewValidationError(message string, issues ...string) *ValidationError {
	return &ValidationError{Message: message, Issues: issues}
}

// BatchError reports a whole-batch failure. The only producer today is the
// resolver's timeout path, classified as a gateway timeout.
type BatchError struct {
	RequestID string
	Code      int
	Message   string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %s: %s", e.RequestID, e.Message)
}

// NewBatchTimeout builds the 504 error produced when a batch's timer fires
// before every task has reported.
func NewBatchTimeout(requestID string, pending int) *BatchError {
	return &BatchError{
		RequestID: requestID,
		Code:      504,
		Message:   fmt.Sprintf("timed out waiting for %d task(s)", pending),
	}
}

// InternalFault reports a deployment or configuration bug, not a user
// error: for example a service name that passed availability checks but is
// absent from the registry. Surfaced as HTTP 500 and logged distinctly
// from user-caused failures.
type InternalFault struct {
	Message string
	Err     error
}

func (e *InternalFault) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *InternalFault) Unwrap() error { return e.Err }

// NewInternalFault builds an InternalFault wrapping an optional cause.
func NewInternalFault(message string, err error) *InternalFault {
	return &InternalFault{Message: message, Err: err}
}

// StatusCode maps a domain error to its HTTP classification. Unknown
// errors are treated as internal faults.
func StatusCode(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return 400
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Code
	}
	return 500
}
