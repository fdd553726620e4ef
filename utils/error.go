package utils

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "Validation"
	ErrorKindNotFound       ErrorKind = "NotFound"
	ErrorKindAuthentication ErrorKind = "Authentication"
	ErrorKindAuthorization  ErrorKind = "Authorization"
	ErrorKindUpstream       ErrorKind = "Upstream"
	ErrorKindConfiguration  ErrorKind = "Configuration"
)

// AppError carries a caller-safe Message and the internal cause.
// Only Message is ever written to a production response.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(kind ErrorKind, message string, cause []error) *AppError {
	e := &AppError{Kind: kind, Message: message}
	if len(cause) > 0 {
		e.Err = cause[0]
	}
	return e
}

func NewValidationError(message string, cause ...error) *AppError {
	return newAppError(ErrorKindValidation, message, cause)
}

func NewNotFoundError(message string, cause ...error) *AppError {
	return newAppError(ErrorKindNotFound, message, cause)
}

func NewAuthenticationError(message string, cause ...error) *AppError {
	return newAppError(ErrorKindAuthentication, message, cause)
}

func NewAuthorizationError(message string, cause ...error) *AppError {
	return newAppError(ErrorKindAuthorization, message, cause)
}

func NewUpstreamError(message string, cause ...error) *AppError {
	return newAppError(ErrorKindUpstream, message, cause)
}

func NewConfigurationError(message string, cause ...error) *AppError {
	return newAppError(ErrorKindConfiguration, message, cause)
}

// KindOf returns the kind of the first AppError in err's chain, or "" for plain errors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// PublicMessage is the message safe to show a caller.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal server error"
}
