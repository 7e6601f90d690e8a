package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// AppError is an error carrying a client-facing code and message.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Status maps the error code to an HTTP status.
func (e *AppError) Status() int {
	switch e.Code {
	case CodeBadRequest, CodeFailedPrecondition:
		return http.StatusBadRequest
	case CodeInvalidArgument:
		return http.StatusUnprocessableEntity
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func BadRequest(msg string) error         { return New(CodeBadRequest, msg) }
func InvalidArg(msg string) error         { return New(CodeInvalidArgument, msg) }
func Unauthorized(msg string) error       { return New(CodeUnauthenticated, msg) }
func Forbidden(msg string) error          { return New(CodePermissionDenied, msg) }
func NotFound(msg string) error           { return New(CodeNotFound, msg) }
func AlreadyExists(msg string) error      { return New(CodeAlreadyExists, msg) }
func FailedPrecondition(msg string) error { return New(CodeFailedPrecondition, msg) }

// Internal hides cause from the client while keeping it for logs.
func Internal(cause error) error {
	return Wrap(CodeInternal, "Internal server error", cause)
}

// As extracts an *AppError from err. Errors that are not AppErrors become
// INTERNAL.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return &AppError{Code: CodeInternal, Message: "Internal server error", Cause: err}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code Code) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}
