package errors

import "fmt"

// AppError is a structured error carrying a stable code, a
// human-readable message, and an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// New builds an AppError. err may be nil.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AppError with the same code.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

// Wrap attaches a message to an existing error without a stable code,
// used by collaborators (e.g. pkg/config) that do not need the full
// taxonomy but still want consistent formatting.
func Wrap(err error, message string) *AppError {
	return &AppError{Code: "WRAPPED", Message: message, Err: err}
}
