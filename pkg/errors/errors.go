package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrRender indicates that a node violated a structural contract during render
	ErrRender = errors.New("render failed")

	// ErrJobCompile indicates that a compiler could not produce a valid job list
	ErrJobCompile = errors.New("job compile failed")

	// ErrDependencyUnresolved indicates that a job's required result key never
	// produced a successful result
	ErrDependencyUnresolved = errors.New("dependency unresolved")

	// ErrDispatch indicates that one or more dispatched jobs failed
	ErrDispatch = errors.New("dispatch failed")

	// ErrCircuitOpen indicates that the dispatch circuit breaker rejected the call
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBatchFailed indicates that an executor call failed as a whole, so no
	// job of the batch got a result of its own
	ErrBatchFailed = errors.New("batch execution failed")
)

// Error codes attached to structured errors.
const (
	CodeRenderFailed         = "RENDER_FAILED"
	CodeCompileFailed        = "COMPILE_FAILED"
	CodeDependencyUnresolved = "DEPENDENCY_UNRESOLVED"
	CodeDispatchFailed       = "DISPATCH_FAILED"
	CodeExecuteFailed        = "EXECUTE_FAILED"
	CodeCircuitOpen          = "CIRCUIT_OPEN"
	CodeNotConnected         = "NOT_CONNECTED"
	CodeTimeout              = "TIMEOUT"
	CodeUnknown              = "UNKNOWN"
)

// Error represents a structured SDK error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new SDK error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// RenderError reports a node that violates a structural contract. It is raised
// before anything is dispatched.
type RenderError struct {
	Path    string
	Tag     string
	Message string
	Err     error
}

// NewRenderError creates a render error for the node at path.
func NewRenderError(path, message string) *RenderError {
	return &RenderError{Path: path, Message: message}
}

func (e *RenderError) Error() string {
	var b strings.Builder
	b.WriteString("render error")
	if e.Tag != "" {
		fmt.Fprintf(&b, " <%s>", e.Tag)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Is(target error) bool { return target == ErrRender }

// JobCompileError reports segments a platform compiler cannot turn into jobs.
type JobCompileError struct {
	Target  string
	Message string
	Err     error
}

// NewJobCompileError creates a compile error for target.
func NewJobCompileError(target, message string, err error) *JobCompileError {
	return &JobCompileError{Target: target, Message: message, Err: err}
}

func (e *JobCompileError) Error() string {
	msg := "compile error"
	if e.Target != "" {
		msg += " for " + e.Target
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *JobCompileError) Unwrap() error { return e.Err }

func (e *JobCompileError) Is(target error) bool { return target == ErrJobCompile }

// DependencyUnresolvedError is stored as the error of a job that was never sent
// because one of its required result keys is missing or failed.
type DependencyUnresolvedError struct {
	Keys []string
}

func (e *DependencyUnresolvedError) Error() string {
	return fmt.Sprintf("dependency unresolved: %s", strings.Join(e.Keys, ", "))
}

func (e *DependencyUnresolvedError) Is(target error) bool {
	return target == ErrDependencyUnresolved
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsRender checks if an error is a render error
func IsRender(err error) bool {
	return errors.Is(err, ErrRender)
}

// IsJobCompile checks if an error is a compile error
func IsJobCompile(err error) bool {
	return errors.Is(err, ErrJobCompile)
}

// IsDependencyUnresolved checks if an error is an unresolved dependency
func IsDependencyUnresolved(err error) bool {
	return errors.Is(err, ErrDependencyUnresolved)
}

// retryable is implemented by platform errors that know whether sending the
// same call again can succeed.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether the failure is transient. An error in the chain
// implementing Retryable decides; otherwise timeouts, lost connections and
// whole-batch executor failures are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrBatchFailed)
}

// Code maps an error to its machine-readable code.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var sdkErr *Error
	if errors.As(err, &sdkErr) && sdkErr.Code != "" {
		return sdkErr.Code
	}

	switch {
	case errors.Is(err, ErrRender):
		return CodeRenderFailed
	case errors.Is(err, ErrJobCompile):
		return CodeCompileFailed
	case errors.Is(err, ErrDispatch):
		return CodeDispatchFailed
	case errors.Is(err, ErrDependencyUnresolved):
		return CodeDependencyUnresolved
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	}
	return CodeUnknown
}
