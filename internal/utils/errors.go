// Package utils holds plumbing shared across the ECG engine: logger
// construction, operation-tagged errors, and latency tracking.
package utils

import "fmt"

// AppError tags an error with the engine operation that raised it, such as
// "model.load" or "notes.load", plus a human-facing message. The operation
// tag gives log lines and API errors a stable vocabulary for locating the
// failing subsystem.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
