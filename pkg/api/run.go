package api

import (
	"maps"
	"time"
)

// RunStatus is the workflow-level state.
type RunStatus string

const (
	RunCreated    RunStatus = "CREATED"
	RunRunning    RunStatus = "RUNNING"
	RunCancelling RunStatus = "CANCELLING"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
	RunCancelled  RunStatus = "CANCELLED"
)

// Terminal reports whether no further transition can occur.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// TaskStatus is the per-task state.
type TaskStatus string

const (
	TaskPending         TaskStatus = "PENDING"
	TaskReady           TaskStatus = "READY"
	TaskRunning         TaskStatus = "RUNNING"
	TaskWaitingApproval TaskStatus = "WAITING_APPROVAL"
	TaskSucceeded       TaskStatus = "SUCCEEDED"
	TaskFailed          TaskStatus = "FAILED"
	TaskSkipped         TaskStatus = "SKIPPED"
	TaskCancelled       TaskStatus = "CANCELLED"
	TaskTimedOut        TaskStatus = "TIMED_OUT"
)

// Terminal reports whether the task can no longer change state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskSkipped, TaskCancelled, TaskTimedOut:
		return true
	}
	return false
}

// Satisfies reports whether a dependency in this state lets its dependents run.
func (s TaskStatus) Satisfies() bool {
	return s == TaskSucceeded || s == TaskSkipped
}

// Failing reports whether the state counts as a task failure.
func (s TaskStatus) Failing() bool {
	return s == TaskFailed || s == TaskTimedOut
}

// TaskRun is the per-run state of one TaskSpec.
type TaskRun struct {
	TaskID   string     `json:"task_id"`
	Status   TaskStatus `json:"status"`
	Attempts int        `json:"attempts"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      *TaskError     `json:"error,omitempty"`
	ActualCost float64        `json:"actual_cost"`

	// Duration is the summed wall time of every attempt.
	Duration time.Duration `json:"duration"`

	// ApprovalID references the outstanding or decided approval request.
	ApprovalID string `json:"approval_id,omitempty"`
	// Approved is set once the gate has let the task through.
	Approved bool `json:"approved,omitempty"`
}

// WorkflowRun is one execution of a definition.
type WorkflowRun struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definition_id"`
	DefinitionVersion string         `json:"definition_version"`
	Status            RunStatus      `json:"status"`
	Variables         map[string]any `json:"variables,omitempty"`
	Tasks             []*TaskRun     `json:"tasks"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TotalCost float64    `json:"total_cost"`
	Error     *TaskError `json:"error,omitempty"`

	// CancelCause is set when an approval rejection or expiry left no other
	// work in the run. Unless a task failed, the run then ends Cancelled
	// with this error.
	CancelCause *TaskError `json:"cancel_cause,omitempty"`

	// Version is the optimistic concurrency token. Stores bump it on every
	// successful save.
	Version int64 `json:"version"`
}

// Task returns the TaskRun for id, or nil.
func (r *WorkflowRun) Task(id string) *TaskRun {
	for _, t := range r.Tasks {
		if t.TaskID == id {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy so stores never share state with callers.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Variables = cloneMap(r.Variables)
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	if r.CancelCause != nil {
		e := *r.CancelCause
		cp.CancelCause = &e
	}
	cp.Tasks = make([]*TaskRun, len(r.Tasks))
	for i, t := range r.Tasks {
		cp.Tasks[i] = t.Clone()
	}
	return &cp
}

// Clone returns a deep copy of the task run.
func (t *TaskRun) Clone() *TaskRun {
	if t == nil {
		return nil
	}
	cp := *t
	cp.StartedAt = cloneTime(t.StartedAt)
	cp.CompletedAt = cloneTime(t.CompletedAt)
	cp.NextAttemptAt = cloneTime(t.NextAttemptAt)
	cp.Outputs = cloneMap(t.Outputs)
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// MergeVariables returns defaults overlaid with overrides.
func MergeVariables(defaults, overrides map[string]any) map[string]any {
	out := cloneMap(defaults)
	if out == nil {
		out = make(map[string]any, len(overrides))
	}
	maps.Copy(out, cloneMap(overrides))
	return out
}

// RunListOptions filters ListRuns. Zero values mean no filter.
type RunListOptions struct {
	DefinitionID string
	Status       RunStatus
}
