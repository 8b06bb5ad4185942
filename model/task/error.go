package task

import (
	"errors"
	"fmt"
)

// ErrComputation is the sentinel wrapped by every Error so that callers can
// detect task-level failures via errors.Is without inspecting the message.
var ErrComputation = errors.New("computation failed")

// Error ties a captured computation failure back to the task that produced
// it. It is what a fail-fast run surfaces as its terminating error.
type Error struct {
	TaskID  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("task %d: %s", e.TaskID, e.Message)
}

// Unwrap returns ErrComputation so errors.Is(err, ErrComputation) holds.
func (e *Error) Unwrap() error {
	return ErrComputation
}

// NewError creates a task-level error from a wire result message.
func NewError(taskID int, message string) *Error {
	return &Error{TaskID: taskID, Message: message}
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var taskErr *Error
	if errors.As(err, &taskErr) {
		return taskErr, true
	}
	return nil, false
}
