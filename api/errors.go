// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the netloop runtime.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the runtime.
var (
	ErrAlreadyRegistered = errors.New("channel already registered to an event loop")
	ErrEventLoopClosed   = errors.New("event loop is closed")
	ErrChannelClosed     = errors.New("channel is closed")
	ErrExecutorClosed    = errors.New("executor is closed")
	ErrPollerClosed      = errors.New("poller is closed")
	ErrShutdownTimeout   = errors.New("shutdown grace period exceeded")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotSupported      = errors.New("operation not supported on this platform")
)

// ErrorCode classifies structured errors produced by the runtime.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeAlreadyRegistered
	ErrCodeClosed
	ErrCodeTimeout
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodePoller
	ErrCodeInternal
)

// Error is a structured error with a code, a message and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a structured error without a cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a structured error around a cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}
