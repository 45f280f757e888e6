package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced to the model inside function results or turn errors.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeFunctionError    = "FUNCTION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeActiveTaskExists = "ACTIVE_TASK_EXISTS"
)

var (
	// ErrInvalidJSON is returned when the model answer cannot be parsed or fails validation.
	ErrInvalidJSON = errors.New("invalid json answer")

	// ErrActionNotFound is returned when a requested action is not registered.
	ErrActionNotFound = errors.New("action not found")

	// ErrTaskNotFound is returned when no task matches the lookup.
	ErrTaskNotFound = errors.New("task not found")

	// ErrWorkflowNotFound is returned when a workflow name cannot be resolved.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepNotFound is returned when a step name cannot be resolved within a workflow.
	ErrStepNotFound = errors.New("step not found")

	// ErrActiveTaskExists is returned by createTask when the thread already has an active task.
	ErrActiveTaskExists = errors.New("active task already exists")

	// ErrLogNotFound is returned when a thread has no usable log record.
	ErrLogNotFound = errors.New("log not found")
)

// CodedError is an error that carries a stable code for the model.
// When an action returns a CodedError, its code is kept in the function results
// instead of the generic FUNCTION_ERROR.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

// NewCodedError builds a CodedError wrapping a sentinel.
func NewCodedError(code string, err error, format string, args ...any) *CodedError {
	return &CodedError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }
