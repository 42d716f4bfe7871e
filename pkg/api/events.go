package api

import "time"

// EventType identifies a run history event.
type EventType string

const (
	EventRunCreated    EventType = "run.created"
	EventRunStarted    EventType = "run.started"
	EventRunResumed    EventType = "run.resumed"
	EventRunCancelling EventType = "run.cancelling"
	EventRunCompleted  EventType = "run.completed"
	EventRunFailed     EventType = "run.failed"
	EventRunCancelled  EventType = "run.cancelled"

	EventTaskStarted        EventType = "task.started"
	EventTaskSucceeded      EventType = "task.succeeded"
	EventTaskFailed         EventType = "task.failed"
	EventTaskRetryScheduled EventType = "task.retry_scheduled"
	EventTaskSkipped        EventType = "task.skipped"
	EventTaskCancelled      EventType = "task.cancelled"
	EventTaskTimedOut       EventType = "task.timed_out"
	EventTaskLost           EventType = "task.lost"

	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
)

// RunEvent is a small append-only history record for audit and debugging.
type RunEvent struct {
	RunID        string    `json:"run_id"`
	At           time.Time `json:"at"`
	Type         EventType `json:"type"`
	DefinitionID string    `json:"definition_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`

	// Detail is short and human-oriented (error message, decision).
	Detail string `json:"detail,omitempty"`
}
