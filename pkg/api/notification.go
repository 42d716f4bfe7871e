package api

import (
	"context"
	"log/slog"
	"time"
)

// NotificationType identifies a lifecycle notification.
type NotificationType string

const (
	NotifyApprovalRequested NotificationType = "approval.requested"
	NotifyWorkflowCompleted NotificationType = "workflow.completed"
	NotifyWorkflowFailed    NotificationType = "workflow.failed"
	NotifyWorkflowCancelled NotificationType = "workflow.cancelled"
)

// Notification is delivered to a NotificationSink.
type Notification struct {
	Type         NotificationType `json:"type"`
	RunID        string           `json:"run_id"`
	DefinitionID string           `json:"definition_id"`
	TaskID       string           `json:"task_id,omitempty"`
	ApprovalID   string           `json:"approval_id,omitempty"`
	At           time.Time        `json:"at"`
	Payload      map[string]any   `json:"payload,omitempty"`
}

// NotificationSink receives lifecycle notifications. Delivery transport is
// the sink's concern; the engine only logs a failed Notify.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// NoopSink drops every notification.
type NoopSink struct{}

func (NoopSink) Notify(context.Context, Notification) error { return nil }

// SinkFunc adapts a function to NotificationSink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LoggingSink writes notifications to a slog.Logger.
type LoggingSink struct {
	Logger *slog.Logger
}

func (s LoggingSink) Notify(ctx context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("type", string(n.Type)),
		slog.String("run_id", n.RunID),
		slog.String("definition", n.DefinitionID),
		slog.String("task", n.TaskID),
		slog.String("approval_id", n.ApprovalID),
		slog.Any("payload", n.Payload),
	)
	return nil
}
