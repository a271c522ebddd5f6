// Package apperr defines the coded errors the engine returns to its callers.
// Business outcomes such as insufficient credits are *Error values the caller
// can branch on with errors.Is or CodeOf.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeAlreadyConsumed     Code = "ALREADY_CONSUMED"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a code to the status the HTTP layer responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeAlreadyConsumed, CodeInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so package-level sentinels
// work with errors.Is regardless of message or details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func NotFound(what string) *Error {
	return New(CodeNotFound, what+" not found")
}

func Validation(msg string) *Error {
	return New(CodeValidation, msg)
}

func Forbidden(msg string) *Error {
	return New(CodeForbidden, msg)
}

func Unauthorized(msg string) *Error {
	return New(CodeUnauthorized, msg)
}

func Internal(err error) *Error {
	return Wrap(CodeInternal, "internal error", err)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}
