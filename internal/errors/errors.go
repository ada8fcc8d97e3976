package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Mend error code.
type ErrorCode string

const (
	ErrInvalid        ErrorCode = "INVALID"         // 422
	ErrAmbiguity      ErrorCode = "AMBIGUITY"       // 409
	ErrIO             ErrorCode = "IO"              // 500
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"  // 404
	ErrFileTooLarge   ErrorCode = "FILE_TOO_LARGE"  // 413
	ErrInternal       ErrorCode = "INTERNAL"        // 500
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
)

// Position locates a failure in the resolved table.
// Line is the 0-based row index; Column is the column count or index
// relevant to the failure.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// String renders the position as "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// MendError represents a structured error with code, status, and details.
type MendError struct {
	Code     ErrorCode
	Status   int
	Message  string
	Position *Position
	Details  map[string]any
	Err      error
}

// Error implements the error interface.
func (e *MendError) Error() string {
	if e.Position != nil {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Position, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped source error, if any.
func (e *MendError) Unwrap() error {
	return e.Err
}

// NewInvalid creates a 422 error for a row shape that cannot be reconciled
// with the expected column count.
func NewInvalid(pos Position, msg string) *MendError {
	return &MendError{
		Code:     ErrInvalid,
		Status:   422,
		Message:  msg,
		Position: &pos,
	}
}

// NewAmbiguity creates a 409 error for a search that could not settle on a
// single consistent interpretation.
func NewAmbiguity(pos Position, msg string) *MendError {
	return &MendError{
		Code:     ErrAmbiguity,
		Status:   409,
		Message:  msg,
		Position: &pos,
	}
}

// NewIO wraps a failure of the underlying byte source unchanged.
func NewIO(err error) *MendError {
	msg := "io error"
	if err != nil {
		msg = err.Error()
	}
	return &MendError{
		Code:    ErrIO,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *MendError {
	return &MendError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a run cannot be found.
func NewNotFound(identifier string) *MendError {
	return &MendError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("run not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing input file.
func NewFileNotFound(path string) *MendError {
	return &MendError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewFileTooLarge creates a 413 error when an input exceeds the size limit.
func NewFileTooLarge(max, actual int64) *MendError {
	return &MendError{
		Code:    ErrFileTooLarge,
		Status:  413,
		Message: fmt.Sprintf("input exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *MendError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &MendError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewCancelled creates a 499 error when the caller's context ends an operation.
func NewCancelled(operation string) *MendError {
	return &MendError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// Is checks if an error is (or wraps) a MendError with the given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MendError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}

// As extracts the MendError from err, if any.
func As(err error) (*MendError, bool) {
	var mErr *MendError
	if stderrors.As(err, &mErr) {
		return mErr, true
	}
	return nil, false
}
