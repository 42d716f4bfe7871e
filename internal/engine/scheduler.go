package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/petrijr/taskgraph/internal/expr"
	"github.com/petrijr/taskgraph/internal/graph"
	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/pkg/api"
)

// scheduler drives a single run. It is the only writer of that run's state:
// task attempts execute on their own goroutines and report back over
// results, and every mutation happens on the loop.
type scheduler struct {
	e   *engineImpl
	g   *graph.Graph
	run *api.WorkflowRun
	lr  *liveRun

	// tasks is index-aligned with g.
	tasks []*api.TaskRun

	sem      *semaphore.Weighted
	results  chan attemptResult
	inflight map[int]context.CancelFunc

	cancelling      bool
	cancelRequested bool
	dirty           bool
}

type attemptResult struct {
	index    int
	attempt  int
	result   api.TaskResult
	err      error
	timedOut bool
	elapsed  time.Duration
}

func newScheduler(e *engineImpl, g *graph.Graph, run *api.WorkflowRun, lr *liveRun) *scheduler {
	limit := g.Definition().MaxInFlight
	if limit <= 0 {
		limit = e.cfg.MaxInFlight
	}

	s := &scheduler{
		e:        e,
		g:        g,
		run:      run,
		lr:       lr,
		tasks:    make([]*api.TaskRun, g.Len()),
		sem:      semaphore.NewWeighted(int64(limit)),
		results:  make(chan attemptResult, g.Len()),
		inflight: make(map[int]context.CancelFunc),
	}

	byID := make(map[string]*api.TaskRun, len(run.Tasks))
	for _, t := range run.Tasks {
		byID[t.TaskID] = t
	}
	tasks := make([]*api.TaskRun, 0, g.Len())
	for i := range s.tasks {
		t := byID[g.ID(i)]
		if t == nil {
			t = &api.TaskRun{TaskID: g.ID(i), Status: api.TaskPending}
		}
		s.tasks[i] = t
		tasks = append(tasks, t)
	}
	run.Tasks = tasks
	return s
}

func (s *scheduler) loop(ctx context.Context) (*api.WorkflowRun, error) {
	if err := s.start(ctx); err != nil {
		return s.run.Clone(), err
	}

	for {
		if err := s.tick(ctx); err != nil {
			s.abort()
			return s.run.Clone(), err
		}
		if len(s.inflight) == 0 && s.allTerminal() {
			err := s.finalize(ctx)
			return s.run.Clone(), err
		}
		if s.deadlocked() {
			err := s.failDeadlocked(ctx)
			return s.run.Clone(), err
		}
		if err := s.wait(ctx); err != nil {
			s.abort()
			return s.run.Clone(), err
		}
	}
}

// start moves a created run to Running, or reconciles the persisted state
// of a run that was left non-terminal by another process.
func (s *scheduler) start(ctx context.Context) error {
	now := s.now()

	if s.run.Status == api.RunCreated {
		s.run.Status = api.RunRunning
		s.run.StartedAt = &now
		s.event(ctx, api.EventRunStarted, "", 0, "")
	} else {
		s.event(ctx, api.EventRunResumed, "", 0, string(s.run.Status))
		if s.run.Status == api.RunCancelling {
			s.cancelling = true
			s.cancelRequested = true
		}
		if s.run.StartedAt == nil {
			s.run.StartedAt = &now
		}
		for i, t := range s.tasks {
			if t.Status != api.TaskRunning {
				continue
			}
			s.e.logger.WarnContext(ctx, "task has no live execution",
				slog.String("run_id", s.run.ID),
				slog.String("task_id", t.TaskID),
				slog.Int("attempt", t.Attempts),
			)
			s.event(ctx, api.EventTaskLost, t.TaskID, t.Attempts, "")
			if s.cancelling {
				s.cancelTask(ctx, i, api.KindCancelled, "run cancelled")
				continue
			}
			s.failAttempt(ctx, i, &api.TaskError{
				Kind:    api.KindLostExecution,
				Message: fmt.Sprintf("attempt %d was running when its executor went away", t.Attempts),
			}, true)
		}
		s.reconcile(ctx)
		if err := s.withdrawOrphans(ctx); err != nil {
			return err
		}
	}

	s.dirty = true
	if err := s.persist(ctx); err != nil {
		return err
	}
	s.e.observer.OnRunStart(ctx, s.run)
	return nil
}

// reconcile re-applies failure propagation to persisted state, in case the
// previous owner stopped between a failure and its cascade.
func (s *scheduler) reconcile(ctx context.Context) {
	for i, t := range s.tasks {
		switch {
		case t.Status.Failing():
			s.cancelDescendants(ctx, i, api.KindDependencyFailed, fmt.Sprintf("dependency %q failed", t.TaskID))
		case t.Status == api.TaskCancelled && t.Error != nil && isApprovalKind(t.Error.Kind):
			s.cancelDescendants(ctx, i, t.Error.Kind, fmt.Sprintf("approval for %q was not granted", t.TaskID))
		}
	}
}

// withdrawOrphans cancels approval requests of this run that no task refers
// to. They are left behind when the previous owner stopped between opening a
// request and persisting the run.
func (s *scheduler) withdrawOrphans(ctx context.Context) error {
	pending, err := s.e.gate.Pending(ctx)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if req.RunID != s.run.ID {
			continue
		}
		if t := s.run.Task(req.TaskID); t != nil && t.Status == api.TaskWaitingApproval && t.ApprovalID == req.ID {
			continue
		}
		if err := s.e.gate.Withdraw(ctx, req.ID); err != nil {
			return err
		}
	}
	return nil
}

// tick applies every transition that is possible right now, persists the
// result and then dispatches ready tasks.
func (s *scheduler) tick(ctx context.Context) error {
	if !s.cancelRequested {
		requested, err := s.e.runs.CancelRequested(ctx, s.run.ID)
		if err != nil {
			return err
		}
		if requested {
			s.beginCancel(ctx)
		}
	}

	if s.cancelling {
		s.sweepCancelled(ctx)
		return s.persist(ctx)
	}

	if err := s.checkApprovals(ctx); err != nil {
		return err
	}
	if err := s.promote(ctx); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		return err
	}
	return s.dispatch(ctx)
}

// promote moves Pending tasks whose dependencies are satisfied to Skipped,
// WaitingApproval or Ready, until nothing changes.
func (s *scheduler) promote(ctx context.Context) error {
	for changed := true; changed; {
		changed = false
		for i, t := range s.tasks {
			if t.Status != api.TaskPending || !s.depsSatisfied(i) {
				continue
			}
			changed = true
			s.dirty = true

			if cond := s.g.Condition(i); cond != nil && !cond.Test(s.scope()) {
				now := s.now()
				t.Status = api.TaskSkipped
				t.CompletedAt = &now
				s.event(ctx, api.EventTaskSkipped, t.TaskID, 0, cond.Source())
				continue
			}
			if s.g.Spec(i).RequiresApproval && !t.Approved {
				if err := s.requestApproval(ctx, i); err != nil {
					return err
				}
				continue
			}
			t.Status = api.TaskReady
		}
	}
	return nil
}

func (s *scheduler) depsSatisfied(i int) bool {
	for _, d := range s.g.Deps(i) {
		if !s.tasks[d].Status.Satisfies() {
			return false
		}
	}
	return true
}

func (s *scheduler) requestApproval(ctx context.Context, i int) error {
	t := s.tasks[i]
	req, err := s.e.gate.Open(ctx, s.run, s.g.Spec(i))
	if err != nil {
		return fmt.Errorf("open approval for %s: %w", t.TaskID, err)
	}
	t.Status = api.TaskWaitingApproval
	t.ApprovalID = req.ID
	s.e.observer.OnApprovalRequested(ctx, s.run, req)
	s.event(ctx, api.EventApprovalRequested, t.TaskID, 0, req.ID)
	return nil
}

// checkApprovals polls every outstanding request. Expiry is applied by the
// gate as part of the check.
func (s *scheduler) checkApprovals(ctx context.Context) error {
	for i, t := range s.tasks {
		if t.Status != api.TaskWaitingApproval {
			continue
		}
		if t.ApprovalID == "" {
			t.Status = api.TaskPending
			s.dirty = true
			continue
		}

		req, err := s.e.gate.Check(ctx, t.ApprovalID)
		if errors.Is(err, persistence.ErrApprovalNotFound) {
			t.ApprovalID = ""
			t.Status = api.TaskPending
			s.dirty = true
			continue
		}
		if err != nil {
			return err
		}

		switch req.Decision {
		case api.DecisionPending:
			continue
		case api.DecisionApproved:
			t.Approved = true
			t.Status = api.TaskReady
			s.dirty = true
		case api.DecisionExpired:
			s.cancelTask(ctx, i, api.KindApprovalTimeout, "approval expired")
			s.cancelDescendants(ctx, i, api.KindApprovalTimeout, fmt.Sprintf("approval for %q expired", t.TaskID))
			s.noteRejection(i)
		default:
			msg := "approval rejected"
			if req.DecidedBy != "" {
				msg += " by " + req.DecidedBy
			}
			if req.Comment != "" {
				msg += ": " + req.Comment
			}
			s.cancelTask(ctx, i, api.KindApprovalRejected, msg)
			s.cancelDescendants(ctx, i, api.KindApprovalRejected, fmt.Sprintf("approval for %q was rejected", t.TaskID))
			s.noteRejection(i)
		}
		s.event(ctx, api.EventApprovalResolved, t.TaskID, 0, string(req.Decision))
	}
	return nil
}

// dispatch starts Ready tasks in definition order while slots are free.
// Tasks are persisted as Running before their attempt starts.
func (s *scheduler) dispatch(ctx context.Context) error {
	now := s.now()
	var batch []int
	for i, t := range s.tasks {
		if t.Status != api.TaskReady {
			continue
		}
		if t.NextAttemptAt != nil && now.Before(*t.NextAttemptAt) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			break
		}
		t.Status = api.TaskRunning
		t.Attempts++
		t.NextAttemptAt = nil
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		batch = append(batch, i)
	}
	if len(batch) == 0 {
		return nil
	}

	s.dirty = true
	if err := s.persist(ctx); err != nil {
		s.sem.Release(int64(len(batch)))
		return err
	}
	for _, i := range batch {
		s.launch(ctx, i)
	}
	return nil
}

func (s *scheduler) launch(ctx context.Context, i int) {
	t := s.tasks[i]
	spec := s.g.Spec(i)

	attemptCtx, cancel := context.WithCancel(ctx)
	s.inflight[i] = cancel
	if timeout := spec.Timeout.Std(); timeout > 0 {
		var cancelTimeout context.CancelFunc
		attemptCtx, cancelTimeout = context.WithTimeout(attemptCtx, timeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}

	req := api.TaskRequest{
		RunID:      s.run.ID,
		TaskID:     t.TaskID,
		Capability: spec.Capability,
		Inputs:     s.g.Inputs(i).Render(s.scope()),
		Attempt:    t.Attempts,
		Timeout:    spec.Timeout.Std(),
	}

	s.e.observer.OnTaskStart(ctx, s.run, t.TaskID, t.Attempts)
	s.event(ctx, api.EventTaskStarted, t.TaskID, t.Attempts, spec.Capability)

	exec := s.e.cfg.Executor
	clock := s.e.cfg.Clock
	started := clock.Now()
	go func() {
		defer cancel()
		res, err := execute(attemptCtx, exec, req)
		s.results <- attemptResult{
			index:    i,
			attempt:  req.Attempt,
			result:   res,
			err:      err,
			timedOut: err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded),
			elapsed:  clock.Now().Sub(started),
		}
	}()
}

// execute runs one attempt, turning a panic into a permanent error.
func execute(ctx context.Context, exec api.TaskExecutor, req api.TaskRequest) (res api.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.Permanentf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, req)
}

// wait blocks until an attempt finishes, the run is nudged, a retry or poll
// is due, or ctx is done. Completions are applied and persisted.
func (s *scheduler) wait(ctx context.Context) error {
	select {
	case r := <-s.results:
		s.complete(ctx, r)
	case <-s.lr.wake:
	case <-s.e.cfg.Clock.After(s.nextWake()):
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case r := <-s.results:
			s.complete(ctx, r)
		default:
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.persist(ctx)
		}
	}
}

func (s *scheduler) nextWake() time.Duration {
	d := s.e.cfg.PollInterval
	now := s.now()
	for _, t := range s.tasks {
		if t.Status == api.TaskReady && t.NextAttemptAt != nil {
			if w := t.NextAttemptAt.Sub(now); w < d {
				d = w
			}
		}
	}
	return max(d, 0)
}

func (s *scheduler) complete(ctx context.Context, r attemptResult) {
	s.sem.Release(1)
	delete(s.inflight, r.index)
	if ctx.Err() != nil {
		// Shutting down: the task stays Running and is reconciled on resume.
		return
	}

	t := s.tasks[r.index]
	t.Duration += r.elapsed
	s.dirty = true
	s.e.observer.OnTaskCompleted(ctx, s.run, t.TaskID, r.attempt, r.err, r.elapsed)

	if r.err == nil {
		now := s.now()
		t.Status = api.TaskSucceeded
		t.Outputs = r.result.Outputs
		t.ActualCost = r.result.Cost
		t.CompletedAt = &now
		t.Error = nil
		s.event(ctx, api.EventTaskSucceeded, t.TaskID, r.attempt, "")
		return
	}

	if s.cancelling {
		s.cancelTask(ctx, r.index, api.KindCancelled, "run cancelled: "+r.err.Error())
		return
	}

	switch {
	case r.timedOut:
		s.failAttempt(ctx, r.index, &api.TaskError{
			Kind:    api.KindTimeout,
			Message: fmt.Sprintf("attempt %d exceeded %s", r.attempt, s.g.Spec(r.index).Timeout.Std()),
		}, true)
	case api.IsPermanent(r.err):
		s.failAttempt(ctx, r.index, &api.TaskError{Kind: api.KindPermanent, Message: r.err.Error()}, false)
	default:
		s.failAttempt(ctx, r.index, &api.TaskError{Kind: api.KindTransient, Message: r.err.Error()}, true)
	}
}

// failAttempt records a failed attempt and either schedules a retry or makes
// the failure terminal. A task is retried at most MaxRetries times.
func (s *scheduler) failAttempt(ctx context.Context, i int, terr *api.TaskError, retryable bool) {
	t := s.tasks[i]
	spec := s.g.Spec(i)
	now := s.now()
	t.Error = terr
	s.dirty = true

	if retryable && t.Attempts <= spec.MaxRetries {
		delay := s.backoff(spec).Delay(t.Attempts, s.e.cfg.Random())
		next := now.Add(delay)
		t.Status = api.TaskReady
		t.NextAttemptAt = &next
		s.e.observer.OnTaskRetry(ctx, s.run, t.TaskID, t.Attempts, delay)
		s.event(ctx, api.EventTaskRetryScheduled, t.TaskID, t.Attempts, terr.Error())
		return
	}

	t.CompletedAt = &now
	if terr.Kind == api.KindTimeout {
		t.Status = api.TaskTimedOut
		s.event(ctx, api.EventTaskTimedOut, t.TaskID, t.Attempts, terr.Message)
	} else {
		t.Status = api.TaskFailed
		s.event(ctx, api.EventTaskFailed, t.TaskID, t.Attempts, terr.Error())
	}
	s.cancelDescendants(ctx, i, api.KindDependencyFailed, fmt.Sprintf("dependency %q failed", t.TaskID))
}

func (s *scheduler) backoff(spec api.TaskSpec) api.BackoffPolicy {
	if spec.Backoff != nil {
		return spec.Backoff.Normalize()
	}
	return s.e.cfg.Backoff
}

func (s *scheduler) cancelTask(ctx context.Context, i int, kind api.ErrorKind, msg string) {
	t := s.tasks[i]
	now := s.now()
	t.Status = api.TaskCancelled
	t.CompletedAt = &now
	t.NextAttemptAt = nil
	t.Error = &api.TaskError{Kind: kind, Message: msg}
	s.dirty = true
	s.event(ctx, api.EventTaskCancelled, t.TaskID, t.Attempts, string(kind))
}

// cancelDescendants cancels every transitive dependent of i that has not
// finished. None of them can be running: they all wait on i.
func (s *scheduler) cancelDescendants(ctx context.Context, i int, kind api.ErrorKind, msg string) {
	for _, d := range s.g.Descendants(i) {
		if s.tasks[d].Status.Terminal() {
			continue
		}
		if _, running := s.inflight[d]; running {
			continue
		}
		s.cancelTask(ctx, d, kind, msg)
	}
}

func (s *scheduler) beginCancel(ctx context.Context) {
	s.cancelRequested = true
	s.cancelling = true
	s.run.Status = api.RunCancelling
	s.dirty = true
	s.event(ctx, api.EventRunCancelling, "", 0, "")

	for _, cancel := range s.inflight {
		cancel()
	}
	s.sweepCancelled(ctx)
}

// sweepCancelled cancels every task that is neither finished nor running.
func (s *scheduler) sweepCancelled(ctx context.Context) {
	for i, t := range s.tasks {
		if t.Status.Terminal() {
			continue
		}
		if _, running := s.inflight[i]; running {
			continue
		}
		if t.Status == api.TaskWaitingApproval && t.ApprovalID != "" {
			if err := s.e.gate.Withdraw(ctx, t.ApprovalID); err != nil {
				s.e.logger.WarnContext(ctx, "withdraw approval failed",
					slog.String("run_id", s.run.ID),
					slog.String("approval_id", t.ApprovalID),
					slog.Any("error", err),
				)
			}
		}
		s.cancelTask(ctx, i, api.KindCancelled, "run cancelled")
	}
}

func (s *scheduler) allTerminal() bool {
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// deadlocked reports whether unfinished tasks remain although nothing is
// running, waiting for a decision or queued for dispatch.
func (s *scheduler) deadlocked() bool {
	if len(s.inflight) > 0 {
		return false
	}
	stuck := false
	for _, t := range s.tasks {
		switch t.Status {
		case api.TaskReady, api.TaskWaitingApproval:
			return false
		}
		if !t.Status.Terminal() {
			stuck = true
		}
	}
	return stuck
}

func (s *scheduler) failDeadlocked(ctx context.Context) error {
	var stuck []string
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			stuck = append(stuck, fmt.Sprintf("%s(%s)", t.TaskID, t.Status))
		}
	}
	s.e.logger.ErrorContext(ctx, "scheduler deadlocked",
		slog.String("run_id", s.run.ID),
		slog.Any("tasks", stuck),
	)

	now := s.now()
	s.run.Status = api.RunFailed
	s.run.CompletedAt = &now
	s.run.Error = &api.TaskError{
		Kind:    api.KindDeadlocked,
		Message: fmt.Sprintf("no progress possible for %v", stuck),
	}
	s.dirty = true
	if err := s.persist(ctx); err != nil {
		return err
	}
	s.e.finished(ctx, s.run)
	return fmt.Errorf("run %s: %w", s.run.ID, api.ErrDeadlocked)
}

func (s *scheduler) finalize(ctx context.Context) error {
	now := s.now()
	s.run.Status, s.run.Error = s.outcome()
	s.run.CompletedAt = &now
	s.dirty = true
	if err := s.persist(ctx); err != nil {
		return err
	}
	s.e.finished(ctx, s.run)
	return nil
}

// outcome derives the terminal run status from the task states.
func (s *scheduler) outcome() (api.RunStatus, *api.TaskError) {
	if s.cancelRequested {
		return api.RunCancelled, &api.TaskError{Kind: api.KindCancelled, Message: "run cancelled"}
	}
	for _, t := range s.tasks {
		if !t.Status.Failing() {
			continue
		}
		cause := api.TaskError{Kind: api.KindInternal, Message: string(t.Status)}
		if t.Error != nil {
			cause = *t.Error
		}
		return api.RunFailed, &api.TaskError{
			Kind:    cause.Kind,
			Message: fmt.Sprintf("task %q: %s", t.TaskID, cause.Message),
		}
	}
	if s.run.CancelCause != nil {
		cause := *s.run.CancelCause
		return api.RunCancelled, &cause
	}
	return api.RunCompleted, nil
}

// noteRejection records the rejection of task i as the run's cancel cause
// when its cascade left nothing else to run. Work still pending or in flight
// elsewhere means the run can still complete.
func (s *scheduler) noteRejection(i int) {
	if !s.allTerminal() {
		return
	}
	t := s.tasks[i]
	s.run.CancelCause = &api.TaskError{Kind: t.Error.Kind, Message: fmt.Sprintf("task %q: %s", t.TaskID, t.Error.Message)}
	s.dirty = true
}

func isApprovalKind(k api.ErrorKind) bool {
	return k == api.KindApprovalRejected || k == api.KindApprovalTimeout
}

// abort stops in-flight attempts and waits for them to return. Their tasks
// stay Running in the store and are reconciled on resume.
func (s *scheduler) abort() {
	for _, cancel := range s.inflight {
		cancel()
	}
	for range len(s.inflight) {
		r := <-s.results
		s.sem.Release(1)
		delete(s.inflight, r.index)
	}
}

func (s *scheduler) persist(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	s.run.TotalCost = api.Summarize(s.run, nil).TotalCost
	if err := s.e.runs.SaveRun(ctx, s.run); err != nil {
		return fmt.Errorf("persist run %s: %w", s.run.ID, err)
	}
	s.dirty = false
	return nil
}

// scope exposes run variables and task results to conditions and input
// templates.
func (s *scheduler) scope() expr.Scope {
	tasks := make(map[string]any, len(s.tasks))
	for _, t := range s.tasks {
		entry := map[string]any{"status": string(t.Status)}
		if t.Outputs != nil {
			entry["outputs"] = t.Outputs
		}
		tasks[t.TaskID] = entry
	}
	return expr.Scope{
		"variables": s.run.Variables,
		"tasks":     tasks,
	}
}

func (s *scheduler) now() time.Time { return s.e.cfg.Clock.Now() }

func (s *scheduler) event(ctx context.Context, typ api.EventType, taskID string, attempt int, detail string) {
	s.e.appendEvent(ctx, api.RunEvent{
		RunID:        s.run.ID,
		At:           s.now(),
		Type:         typ,
		DefinitionID: s.run.DefinitionID,
		TaskID:       taskID,
		Attempt:      attempt,
		Detail:       detail,
	})
}
