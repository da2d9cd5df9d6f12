package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeConfig      Code = 10
	CodeQuote       Code = 11
	CodeExecution   Code = 12
	CodeTimeout     Code = 13
	CodeUnavailable Code = 14
)

// Error is a typed agent error that carries a stable error code.
//
// CodeConfig marks unresolvable chain/protocol/token configuration; it is
// fatal to the current operation and never retried. CodeQuote marks a router
// response with no usable transaction. CodeExecution marks an on-chain revert
// or a failed post-step invariant; its message carries the transaction hash
// when one exists. CodeTimeout marks a bounded wait that elapsed; the
// underlying transaction may still land and must be reconciled by the
// monitor, never assumed failed.
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

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if agentErr, ok := As(err); ok {
		return int(agentErr.Code)
	}
	return int(CodeInternal)
}
