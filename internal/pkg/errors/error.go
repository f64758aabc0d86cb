package errors

import (
	"errors"
	"fmt"
)

// AppError carries a business error code alongside the message and an
// optional wrapped cause. Codes are defined in codes.go per module band.
type AppError struct {
	Code    int
	Message string
	Err     error  // wrapped cause, nil for leaf errors
	Details string // caller-supplied context, e.g. the offending path or hash
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the business code to its HTTP status.
func (e *AppError) HTTPStatus() int {
	return GetHTTPStatus(e.Code)
}

// New builds a leaf AppError for code. An optional single detail string
// adds caller context to the canonical message.
func New(code int, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Code:    code,
		Message: GetMessage(code),
		Details: detail,
	}
}

// Wrap attaches a business code to err. If err already is an AppError the
// original code wins and only the details are refreshed, so the first
// classification along a call chain sticks.
func Wrap(err error, code int, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if len(details) > 0 && details[0] != "" {
			appErr.Details = details[0]
		}
		return appErr
	}

	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}

	return &AppError{
		Code:    code,
		Message: GetMessage(code),
		Err:     err,
		Details: detail,
	}
}

// Is reports whether err carries the given business code anywhere in its
// chain.
func Is(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ExtractCode returns the business code of err, or ErrInternalServer for
// errors that never passed through this package.
func ExtractCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServer
}
