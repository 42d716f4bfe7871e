package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies definition, execution and scheduler errors.
type ErrorKind string

const (
	KindDuplicateTaskID   ErrorKind = "DuplicateTaskId"
	KindUnknownDependency ErrorKind = "UnknownDependency"
	KindCyclicDependency  ErrorKind = "CyclicDependency"
	KindInvalidCondition  ErrorKind = "InvalidCondition"
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindInvalidDefinition ErrorKind = "InvalidDefinition"

	KindTransient        ErrorKind = "Transient"
	KindPermanent        ErrorKind = "Permanent"
	KindTimeout          ErrorKind = "Timeout"
	KindApprovalRejected ErrorKind = "ApprovalRejected"
	KindApprovalTimeout  ErrorKind = "ApprovalTimeout"
	KindLostExecution    ErrorKind = "LostExecution"
	KindDependencyFailed ErrorKind = "DependencyFailed"
	KindCancelled        ErrorKind = "Cancelled"
	KindDeadlocked       ErrorKind = "Deadlocked"
	KindInternal         ErrorKind = "Internal"
)

var (
	// ErrInvalidDefinition is wrapped by every DefinitionError.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrDefinitionNotFound is returned for an unknown definition id or version.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrWorkflowDefinitionMismatch is returned when an id+version is
	// registered again with a different body.
	ErrWorkflowDefinitionMismatch = errors.New("workflow definition mismatch")

	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrApprovalNotFound is returned for an unknown approval request id.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrVersionConflict is returned by RunStore.SaveRun when the stored run
	// was modified since it was loaded.
	ErrVersionConflict = errors.New("workflow run version conflict")

	// ErrRunActive is returned when a run is already being driven by this
	// process.
	ErrRunActive = errors.New("workflow run is already executing")

	// ErrRunTerminal is returned when an operation needs a non-terminal run.
	ErrRunTerminal = errors.New("workflow run is terminal")

	// ErrDeadlocked marks a scheduler invariant violation: tasks remain but
	// nothing can make progress.
	ErrDeadlocked = errors.New("scheduler deadlocked")
)

// DefinitionError is returned by validation. It is fatal and never retried.
type DefinitionError struct {
	Kind   ErrorKind
	TaskID string
	// Cycle lists the members of a detected cycle in dependency order,
	// closed on the first member.
	Cycle []string
	Msg   string
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.TaskID != "" {
		fmt.Fprintf(&b, " (task %q)", e.TaskID)
	}
	if len(e.Cycle) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Cycle, " -> "))
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *DefinitionError) Unwrap() error { return ErrInvalidDefinition }

// ExecutionError is returned by a TaskExecutor. Transient errors are retried,
// permanent errors fail the task immediately.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable execution error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Kind: KindTransient, Message: err.Error(), Err: err}
}

// Permanent wraps err as a non-retryable execution error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Kind: KindPermanent, Message: err.Error(), Err: err}
}

// Permanentf formats a non-retryable execution error.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// Transientf formats a retryable execution error.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err is a permanent ExecutionError. Errors that
// carry no classification are treated as transient.
func IsPermanent(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind == KindPermanent
	}
	return false
}

// TaskError is the error recorded on a TaskRun or WorkflowRun.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// Is lets errors.Is(err, ErrDeadlocked) match a recorded deadlock.
func (e *TaskError) Is(target error) bool {
	return e != nil && e.Kind == KindDeadlocked && target == ErrDeadlocked
}
