// Package telemetry reports engine activity as OpenTelemetry metrics.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petrijr/taskgraph/pkg/api"
)

// ScopeName is the instrumentation scope of the meter.
const ScopeName = "github.com/petrijr/taskgraph"

// MetricsObserver is an api.Observer backed by OpenTelemetry instruments.
type MetricsObserver struct {
	api.NoopObserver

	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
	attempts     metric.Int64Counter
	retries      metric.Int64Counter
	approvals    metric.Int64Counter
	taskDuration metric.Float64Histogram
	cost         metric.Float64Counter
}

// NewMetricsObserver creates the instruments on mp. A nil provider selects
// the global one.
func NewMetricsObserver(mp metric.MeterProvider) (*MetricsObserver, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(ScopeName)

	var (
		o    MetricsObserver
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	o.runsStarted = counter("taskgraph.runs.started", "Runs that began or resumed execution")
	o.runsFinished = counter("taskgraph.runs.finished", "Runs that reached a terminal state, by status")
	o.attempts = counter("taskgraph.task.attempts", "Finished task attempts, by outcome")
	o.retries = counter("taskgraph.task.retries", "Task attempts scheduled for retry")
	o.approvals = counter("taskgraph.approvals.requested", "Approval requests created")

	var err error
	o.taskDuration, err = meter.Float64Histogram(
		"taskgraph.task.duration",
		metric.WithDescription("Duration of task attempts"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)
	o.cost, err = meter.Float64Counter(
		"taskgraph.run.cost",
		metric.WithDescription("Cost accumulated by finished runs"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *MetricsObserver) OnRunStart(ctx context.Context, run *api.WorkflowRun) {
	o.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", run.DefinitionID)))
}

func (o *MetricsObserver) OnRunCompleted(ctx context.Context, run *api.WorkflowRun) {
	o.finished(ctx, run, api.RunCompleted)
}

func (o *MetricsObserver) OnRunFailed(ctx context.Context, run *api.WorkflowRun, _ error) {
	o.finished(ctx, run, api.RunFailed)
}

func (o *MetricsObserver) OnRunCancelled(ctx context.Context, run *api.WorkflowRun) {
	o.finished(ctx, run, api.RunCancelled)
}

func (o *MetricsObserver) finished(ctx context.Context, run *api.WorkflowRun, status api.RunStatus) {
	attrs := metric.WithAttributes(
		attribute.String("definition", run.DefinitionID),
		attribute.String("status", string(status)),
	)
	o.runsFinished.Add(ctx, 1, attrs)
	if run.TotalCost > 0 {
		o.cost.Add(ctx, run.TotalCost, attrs)
	}
}

func (o *MetricsObserver) OnTaskCompleted(ctx context.Context, run *api.WorkflowRun, taskID string, _ int, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if api.IsPermanent(err) {
			outcome = "permanent_error"
		}
	}
	attrs := metric.WithAttributes(
		attribute.String("definition", run.DefinitionID),
		attribute.String("task", taskID),
		attribute.String("outcome", outcome),
	)
	o.attempts.Add(ctx, 1, attrs)
	o.taskDuration.Record(ctx, d.Seconds(), attrs)
}

func (o *MetricsObserver) OnTaskRetry(ctx context.Context, run *api.WorkflowRun, taskID string, _ int, _ time.Duration) {
	o.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", run.DefinitionID),
		attribute.String("task", taskID),
	))
}

func (o *MetricsObserver) OnApprovalRequested(ctx context.Context, run *api.WorkflowRun, _ *api.ApprovalRequest) {
	o.approvals.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", run.DefinitionID)))
}
