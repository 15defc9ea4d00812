package apperror

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a stable, caller-facing failure category.
type ErrorCode string

const (
	CodeAuthentication    ErrorCode = "AUTHENTICATION"
	CodeAuthorization     ErrorCode = "AUTHORIZATION"
	CodeInvalidCloudClaim ErrorCode = "INVALID_CLOUD_CLAIM"
	CodeEntityNotFound    ErrorCode = "ENTITY_NOT_FOUND"
	CodeEmailAuthDisabled ErrorCode = "EMAIL_AUTH_DISABLED"
	CodeDomainNotAllowed  ErrorCode = "DOMAIN_NOT_ALLOWED"
	CodeExistingUser      ErrorCode = "EXISTING_USER"
	CodeInvalidOtp        ErrorCode = "INVALID_OTP"
)

// Error is a typed domain error with a stable code and a parameter bag that is
// safe to surface in logs and to end users. Raw upstream error bodies never go
// into Params.
type Error struct {
	Code    ErrorCode
	Message string
	Params  map[string]any
}

func (e *Error) Error() string {
	if len(e.Params) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Params)
}

// New creates a typed error. params may be nil.
func New(code ErrorCode, message string, params map[string]any) *Error {
	return &Error{Code: code, Message: message, Params: params}
}

// CodeOf returns the code of err if it is (or wraps) an *Error, or "" otherwise.
func CodeOf(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
