// Package coreerr defines the agent node's error taxonomy (spec §7) and maps
// it onto the JSON-RPC error codes named in spec §6. Errors preserve causal
// chains so errors.Is/As keep working across the runtime the way
// toolerrors.ToolError does in the teacher package.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the orthogonal failure categories
// from spec §7.
type Kind string

const (
	// KindValidation covers malformed requests, bad schemas, and unknown
	// context/task/plugin references. Reported to the caller; does not
	// affect other tasks.
	KindValidation Kind = "validation"
	// KindState covers operations incompatible with the current task state
	// (e.g. resuming a task that is not input-required).
	KindState Kind = "state"
	// KindTransient covers upstream LLM or tool failures that may be
	// retried a small bounded number of times before surfacing as failed.
	KindTransient Kind = "transient"
	// KindPlugin covers an uncaught error from a workflow step. Terminates
	// the execution; never retried.
	KindPlugin Kind = "plugin"
	// KindTimeout covers request wall-clock, step-deadline, or
	// cancellation-grace expiry.
	KindTimeout Kind = "timeout"
	// KindInternal covers invariant violations. The offending operation
	// aborts; other tasks continue.
	KindInternal Kind = "internal"
)

// Code names the application-level error codes from spec §6, layered over
// the coarser Kind classification above.
type Code string

const (
	CodeTaskNotFound        Code = "TaskNotFound"
	CodeTaskTerminal        Code = "TaskTerminal"
	CodeInvalidState        Code = "InvalidState"
	CodePluginNotFound      Code = "PluginNotFound"
	CodeInvalidInput        Code = "InvalidInput"
	CodeTimeout             Code = "Timeout"
	CodeStepLimitExceeded   Code = "StepLimitExceeded"
	CodeAlreadyTerminal     Code = "AlreadyTerminal"
	CodeInvalidRequest      Code = "InvalidRequest"
	CodeBufferOverflow      Code = "BufferOverflow"
	CodePluginError         Code = "PluginError"
	CodeInternal            Code = "Internal"
)

// JSON-RPC 2.0 reserved codes plus the application range from spec §6.
const (
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternal       = -32603
	RPCAppBase        = -32000
)

// Error is the structured error type used across the runtime. It carries a
// Kind (for internal routing decisions, e.g. whether to retry) and a Code
// (for the wire-level {code, message, data} envelope).
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

// New constructs an Error with the given kind, code, and message.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an Error that wraps an underlying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap supports errors.Is/As across wrapped causes.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// RPCCode maps an Error's Code to the JSON-RPC numeric code used on the wire
// (spec §6). Unrecognized codes fall back to the generic Internal code.
func RPCCode(code Code) int {
	switch code {
	case CodeInvalidRequest:
		return RPCInvalidRequest
	case CodeInvalidInput:
		return RPCInvalidParams
	case CodeInternal:
		return RPCInternal
	case CodeTaskNotFound:
		return RPCAppBase
	case CodeTaskTerminal:
		return RPCAppBase - 1
	case CodeInvalidState:
		return RPCAppBase - 2
	case CodePluginNotFound:
		return RPCAppBase - 3
	case CodeTimeout:
		return RPCAppBase - 4
	case CodeStepLimitExceeded:
		return RPCAppBase - 5
	case CodeAlreadyTerminal:
		return RPCAppBase - 6
	case CodeBufferOverflow:
		return RPCAppBase - 7
	case CodePluginError:
		return RPCAppBase - 8
	default:
		return RPCInternal
	}
}

// NotFound builds a validation-kind TaskNotFound error for the given id.
func NotFound(id string) *Error {
	return New(KindValidation, CodeTaskNotFound, fmt.Sprintf("task %q not found", id))
}

// InvalidRequest builds a validation-kind InvalidRequest error.
func InvalidRequest(message string) *Error {
	return New(KindValidation, CodeInvalidRequest, message)
}

// InvalidState builds a state-kind InvalidState error.
func InvalidState(message string) *Error {
	return New(KindState, CodeInvalidState, message)
}

// InvalidInput builds a validation-kind InvalidInput error (pause/resume
// schema mismatch, spec §4.4.1). Never terminates a workflow execution.
func InvalidInput(message string) *Error {
	return New(KindValidation, CodeInvalidInput, message)
}

// TaskTerminal builds a state-kind TaskTerminal error (publish after final,
// resume/cancel on an already-terminal task).
func TaskTerminal(taskID string) *Error {
	return New(KindState, CodeTaskTerminal, fmt.Sprintf("task %q is already terminal", taskID))
}

// Timeout builds a timeout-kind Timeout error.
func Timeout(message string) *Error {
	return New(KindTimeout, CodeTimeout, message)
}

// Internal builds an internal-kind Internal error wrapping cause.
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, CodeInternal, message, cause)
}
