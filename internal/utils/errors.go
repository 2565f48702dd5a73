package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, the input it concerned, a human-facing message and the underlying error.
type AppError struct {
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	prefix := e.Op
	if e.Path != "" {
		prefix = fmt.Sprintf("%s %s", e.Op, e.Path)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewFileError constructs an AppError bound to an input path.
func NewFileError(op, path, msg string, err error) error {
	return &AppError{Op: op, Path: path, Msg: msg, Err: err}
}

// AsAppError extracts an AppError from err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
