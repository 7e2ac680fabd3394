package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes
// and to the wording shown to chat and web users.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeStale       Code = 14

	// Session lifecycle.
	CodeInvalidInput      Code = 20
	CodeInvalidTransition Code = 21
	CodeConflict          Code = 22
	CodeNotFound          Code = 23
	CodeExpired           Code = 24

	// Transaction construction and settlement.
	CodeUnknownSymbol       Code = 30
	CodeNoRouteFound        Code = 31
	CodeInsufficientBalance Code = 32
	CodeBroadcastFailed     Code = 33
	CodeTimeout             Code = 34
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether the outermost typed error in err's chain has the given code.
func Is(err error, code Code) bool {
	if typed, ok := As(err); ok {
		return typed.Code == code
	}
	return false
}

func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

// IsBuildFailure reports the codes that move a session to FAILED while a
// transaction is being assembled.
func IsBuildFailure(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownSymbol, CodeNoRouteFound, CodeInsufficientBalance:
		return true
	}
	return false
}

func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "provider_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeStale:
		return "stale_data"
	case CodeInvalidInput:
		return "invalid_input"
	case CodeInvalidTransition:
		return "invalid_transition"
	case CodeConflict:
		return "conflict"
	case CodeNotFound:
		return "not_found"
	case CodeExpired:
		return "expired"
	case CodeUnknownSymbol:
		return "unknown_symbol"
	case CodeNoRouteFound:
		return "no_route_found"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeBroadcastFailed:
		return "broadcast_failed"
	case CodeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// UserMessage renders err as text safe to show to a chat or browser user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	typed, ok := As(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch typed.Code {
	case CodeInvalidInput:
		return typed.Message
	case CodeInvalidTransition:
		return "That step is already done or not available right now."
	case CodeConflict:
		return "Another request is updating this swap. Please retry."
	case CodeNotFound, CodeExpired:
		return "This session is no longer available. Please start over."
	case CodeUnknownSymbol, CodeNoRouteFound, CodeInsufficientBalance, CodeBroadcastFailed:
		return typed.Error()
	case CodeRateLimited, CodeUnavailable, CodeTimeout:
		return "A network service is unavailable right now. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}
