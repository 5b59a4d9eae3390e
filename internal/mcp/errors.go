package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a tool invocation failure. The set is exhaustive and
// drives both logging and retry eligibility in the dispatcher.
type ErrorKind string

const (
	ErrKindConnection   ErrorKind = "CONNECTION"
	ErrKindTimeout      ErrorKind = "TIMEOUT"
	ErrKindToolNotFound ErrorKind = "TOOL_NOT_FOUND"
	ErrKindInvalidArgs  ErrorKind = "INVALID_ARGS"
	ErrKindServerError  ErrorKind = "SERVER_ERROR"
	ErrKindUnknown      ErrorKind = "UNKNOWN"
)

// Retryable reports whether a failure of this kind can self-heal on a later
// attempt. Only transport failures and timeouts qualify.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindConnection || k == ErrKindTimeout
}

// ToolError is the classified failure attached to every error that crosses a
// component boundary in this package.
type ToolError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError builds a classified error with a formatted message.
func NewToolError(kind ErrorKind, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapToolError attaches a classification to an underlying error.
func WrapToolError(kind ErrorKind, err error, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Classify maps an arbitrary error from the protocol client onto the
// taxonomy. Errors that already carry a classification pass through
// unchanged.
func Classify(err error, operation string) *ToolError {
	if err == nil {
		return nil
	}

	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return WrapToolError(ErrKindTimeout, err, "%s exceeded its deadline", operation)
	}
	if errors.Is(err, context.Canceled) {
		return WrapToolError(ErrKindConnection, err, "%s was cancelled", operation)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return WrapToolError(ErrKindTimeout, err, "%s timed out", operation)
		}
		return WrapToolError(ErrKindConnection, err, "%s transport failure", operation)
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == rpcCodeInvalidParams {
			return WrapToolError(ErrKindInvalidArgs, err, "%s rejected arguments", operation)
		}
		return WrapToolError(ErrKindServerError, err, "%s server fault (code %d)", operation, rpcErr.Code)
	}

	// http.Client wraps timeouts in a *url.Error whose text mentions the
	// deadline; net.Error matching above catches most of these, this catches
	// the rest.
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return WrapToolError(ErrKindTimeout, err, "%s exceeded its deadline", operation)
	}

	return WrapToolError(ErrKindUnknown, err, "%s failed", operation)
}

// ErrServerExists is returned when registering a server id that is already
// registered.
type ErrServerExists struct {
	ID string
}

func (e ErrServerExists) Error() string {
	return fmt.Sprintf("server %q already registered", e.ID)
}

// ErrServerNotFound is returned when a server id is not registered.
type ErrServerNotFound struct {
	ID string
}

func (e ErrServerNotFound) Error() string {
	return fmt.Sprintf("server %q not found", e.ID)
}
