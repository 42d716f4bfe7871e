package api

import "time"

// DefaultApprovalTimeout applies when neither the task nor the engine
// configures one.
const DefaultApprovalTimeout = 24 * time.Hour

// ApprovalDecision is the state of an approval request.
type ApprovalDecision string

const (
	DecisionPending   ApprovalDecision = "pending"
	DecisionApproved  ApprovalDecision = "approved"
	DecisionRejected  ApprovalDecision = "rejected"
	DecisionExpired   ApprovalDecision = "expired"
	DecisionCancelled ApprovalDecision = "cancelled"
)

// Resolved reports whether a decision has been recorded.
func (d ApprovalDecision) Resolved() bool {
	return d != "" && d != DecisionPending
}

// ApprovalRequest is a pending or decided human approval for one gated task.
type ApprovalRequest struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	TaskID      string           `json:"task_id"`
	Description string           `json:"description,omitempty"`
	Permission  string           `json:"permission,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Decision    ApprovalDecision `json:"decision"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// Clone returns a copy of the request.
func (a *ApprovalRequest) Clone() *ApprovalRequest {
	if a == nil {
		return nil
	}
	cp := *a
	cp.DecidedAt = cloneTime(a.DecidedAt)
	return &cp
}

// ApprovalResolution is the input of a decision.
type ApprovalResolution struct {
	Decision ApprovalDecision
	Actor    string
	Comment  string
	At       time.Time
}
