package utils

import "fmt"

// AppError wraps an operation, the subject it acted on, and the underlying error.
type AppError struct {
	Op      string
	Subject string
	Err     error
}

func (e *AppError) Error() string {
	switch {
	case e.Subject == "" && e.Err == nil:
		return e.Op
	case e.Subject == "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s %s", e.Op, e.Subject)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Subject, e.Err)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, subject string, err error) error {
	return &AppError{Op: op, Subject: subject, Err: err}
}
