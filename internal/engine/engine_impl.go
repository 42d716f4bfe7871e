package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/taskgraph/internal/approval"
	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/pkg/api"
)

// engineImpl hosts any number of runs. Each executing run is owned by one
// scheduler; runs share nothing but the stores.
type engineImpl struct {
	cfg      Config
	runs     persistence.RunStore
	events   persistence.EventStore
	registry *definitionRegistry
	gate     *approval.Gate
	observer api.Observer
	logger   *slog.Logger

	mu   sync.Mutex
	live map[string]*liveRun
}

// liveRun marks a run that this process is currently driving.
type liveRun struct {
	done chan struct{}
	// wake nudges the run loop after an external change (approval decision,
	// cancel request) so it does not wait for the next poll.
	wake chan struct{}
}

var _ api.Engine = (*engineImpl)(nil)

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	return newEngine(cfg)
}

// NewEngine returns an Engine over p using the default configuration.
func NewEngine(p persistence.Persistence, exec api.TaskExecutor) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p, Executor: exec})
}

func newEngine(cfg Config) *engineImpl {
	cfg = cfg.withDefaults()
	return &engineImpl{
		cfg:      cfg,
		runs:     cfg.Persistence.Runs,
		events:   cfg.Persistence.Events,
		registry: newDefinitionRegistry(cfg.Persistence.Definitions),
		gate: approval.New(cfg.Persistence.Approvals, approval.Options{
			Sink:           cfg.Notifier,
			Clock:          cfg.Clock,
			DefaultTimeout: cfg.ApprovalTimeout,
			Logger:         cfg.Logger,
		}),
		observer: cfg.Observer,
		logger:   cfg.Logger,
		live:     make(map[string]*liveRun),
	}
}

func (e *engineImpl) RegisterDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	_, err := e.registry.Register(ctx, def)
	return err
}

func (e *engineImpl) CreateRun(ctx context.Context, definitionID, version string, vars map[string]any) (*api.WorkflowRun, error) {
	g, err := e.registry.Get(ctx, definitionID, version)
	if err != nil {
		return nil, err
	}
	def := g.Definition()

	run := &api.WorkflowRun{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            api.RunCreated,
		Variables:         api.MergeVariables(def.Variables, vars),
		Tasks:             make([]*api.TaskRun, 0, len(def.Tasks)),
		CreatedAt:         e.cfg.Clock.Now(),
	}
	for _, t := range def.Tasks {
		run.Tasks = append(run.Tasks, &api.TaskRun{TaskID: t.ID, Status: api.TaskPending})
	}

	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	e.appendEvent(ctx, api.RunEvent{
		RunID:        run.ID,
		At:           run.CreatedAt,
		Type:         api.EventRunCreated,
		DefinitionID: run.DefinitionID,
		Detail:       "version " + run.DefinitionVersion,
	})
	return run, nil
}

func (e *engineImpl) StartRun(ctx context.Context, definitionID string, vars map[string]any) (string, error) {
	run, err := e.CreateRun(ctx, definitionID, "", vars)
	if err != nil {
		return "", err
	}
	lr, err := e.acquire(run.ID)
	if err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer e.release(run.ID, lr)
		if _, err := e.drive(bg, run.ID, lr); err != nil {
			e.logger.ErrorContext(bg, "run execution failed",
				slog.String("run_id", run.ID),
				slog.Any("error", err),
			)
		}
	}()
	return run.ID, nil
}

func (e *engineImpl) Run(ctx context.Context, definitionID string, vars map[string]any) (*api.WorkflowRun, error) {
	run, err := e.CreateRun(ctx, definitionID, "", vars)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, run.ID)
}

func (e *engineImpl) Execute(ctx context.Context, runID string) (*api.WorkflowRun, error) {
	lr, err := e.acquire(runID)
	if err != nil {
		return nil, err
	}
	defer e.release(runID, lr)
	return e.drive(ctx, runID, lr)
}

func (e *engineImpl) drive(ctx context.Context, runID string, lr *liveRun) (*api.WorkflowRun, error) {
	run, err := e.runs.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}
	g, err := e.registry.Get(ctx, run.DefinitionID, run.DefinitionVersion)
	if err != nil {
		return run, err
	}
	return newScheduler(e, g, run, lr).loop(ctx)
}

func (e *engineImpl) Await(ctx context.Context, runID string) (*api.WorkflowRun, error) {
	for {
		if lr := e.liveRun(runID); lr != nil {
			select {
			case <-lr.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		run, err := e.runs.LoadRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}

		// Driven elsewhere; poll the store.
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-e.cfg.Clock.After(e.cfg.PollInterval):
		}
	}
}

func (e *engineImpl) CancelRun(ctx context.Context, runID string) error {
	run, err := e.runs.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", api.ErrRunTerminal, runID, run.Status)
	}

	if run.Status == api.RunCreated && e.liveRun(runID) == nil {
		err := e.cancelUnstarted(ctx, run)
		if err == nil {
			return nil
		}
		if !errors.Is(err, persistence.ErrVersionConflict) {
			return err
		}
		// Picked up by an executor meanwhile; fall through to a request.
	}

	if err := e.runs.RequestCancel(ctx, runID); err != nil {
		return err
	}
	e.poke(runID)
	return nil
}

// cancelUnstarted finalizes a run nobody has started executing.
func (e *engineImpl) cancelUnstarted(ctx context.Context, run *api.WorkflowRun) error {
	now := e.cfg.Clock.Now()
	for _, t := range run.Tasks {
		t.Status = api.TaskCancelled
		t.CompletedAt = &now
		t.Error = &api.TaskError{Kind: api.KindCancelled, Message: "run cancelled before start"}
	}
	run.Status = api.RunCancelled
	run.CompletedAt = &now
	run.Error = &api.TaskError{Kind: api.KindCancelled, Message: "run cancelled before start"}
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return err
	}
	e.finished(ctx, run)
	return nil
}

func (e *engineImpl) ResolveApproval(ctx context.Context, requestID string, approved bool, actor, comment string) (*api.ApprovalRequest, error) {
	req, err := e.gate.Resolve(ctx, requestID, approved, actor, comment)
	if err != nil {
		return nil, err
	}
	e.poke(req.RunID)
	return req, nil
}

func (e *engineImpl) GetStatus(ctx context.Context, runID string) (*api.RunStatusReport, error) {
	run, err := e.runs.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var defPtr *api.WorkflowDefinition
	if g, err := e.registry.Get(ctx, run.DefinitionID, run.DefinitionVersion); err == nil {
		def := g.Definition()
		defPtr = &def
	}
	return api.NewStatusReport(run, defPtr), nil
}

func (e *engineImpl) GetRun(ctx context.Context, runID string) (*api.WorkflowRun, error) {
	return e.runs.LoadRun(ctx, runID)
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.WorkflowRun, error) {
	return e.runs.ListRuns(ctx, persistence.RunFilter{
		DefinitionID: opts.DefinitionID,
		Status:       opts.Status,
	})
}

func (e *engineImpl) ListPendingApprovals(ctx context.Context) ([]*api.ApprovalRequest, error) {
	return e.gate.Pending(ctx)
}

func (e *engineImpl) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	return e.events.ListEvents(ctx, runID)
}

func (e *engineImpl) RecoverRuns(ctx context.Context) ([]string, error) {
	runs, err := e.runs.ListRuns(ctx, persistence.RunFilter{})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, r := range runs {
		if r.Status != api.RunRunning && r.Status != api.RunCancelling {
			continue
		}
		if e.liveRun(r.ID) != nil {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (e *engineImpl) acquire(runID string) (*liveRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[runID]; ok {
		return nil, fmt.Errorf("%w: %s", api.ErrRunActive, runID)
	}
	lr := &liveRun{done: make(chan struct{}), wake: make(chan struct{}, 1)}
	e.live[runID] = lr
	return lr, nil
}

func (e *engineImpl) release(runID string, lr *liveRun) {
	e.mu.Lock()
	delete(e.live, runID)
	e.mu.Unlock()
	close(lr.done)
}

func (e *engineImpl) liveRun(runID string) *liveRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live[runID]
}

func (e *engineImpl) poke(runID string) {
	if lr := e.liveRun(runID); lr != nil {
		select {
		case lr.wake <- struct{}{}:
		default:
		}
	}
}

// finished emits the observer callback, notification and history event for
// a run that just became terminal.
func (e *engineImpl) finished(ctx context.Context, run *api.WorkflowRun) {
	var (
		nt api.NotificationType
		et api.EventType
	)
	switch run.Status {
	case api.RunCompleted:
		e.observer.OnRunCompleted(ctx, run)
		nt, et = api.NotifyWorkflowCompleted, api.EventRunCompleted
	case api.RunFailed:
		var err error = api.ErrRunTerminal
		if run.Error != nil {
			err = run.Error
		}
		e.observer.OnRunFailed(ctx, run, err)
		nt, et = api.NotifyWorkflowFailed, api.EventRunFailed
	case api.RunCancelled:
		e.observer.OnRunCancelled(ctx, run)
		nt, et = api.NotifyWorkflowCancelled, api.EventRunCancelled
	default:
		return
	}

	at := e.cfg.Clock.Now()
	if run.CompletedAt != nil {
		at = *run.CompletedAt
	}
	detail := ""
	if run.Error != nil {
		detail = run.Error.Error()
	}
	e.appendEvent(ctx, api.RunEvent{
		RunID:        run.ID,
		At:           at,
		Type:         et,
		DefinitionID: run.DefinitionID,
		Detail:       detail,
	})

	totals := api.Summarize(run, nil)
	n := api.Notification{
		Type:         nt,
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		At:           at,
		Payload: map[string]any{
			"status":     string(run.Status),
			"total_cost": totals.TotalCost,
			"tasks":      totals.Tasks,
			"succeeded":  totals.ByStatus[api.TaskSucceeded],
			"failed":     totals.ByStatus[api.TaskFailed] + totals.ByStatus[api.TaskTimedOut],
		},
	}
	if run.Error != nil {
		n.Payload["error"] = run.Error.Error()
	}
	if err := e.cfg.Notifier.Notify(ctx, n); err != nil {
		e.logger.WarnContext(ctx, "run notification failed",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
	}
}

func (e *engineImpl) appendEvent(ctx context.Context, ev api.RunEvent) {
	if err := e.events.AppendEvent(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "append run event failed",
			slog.String("run_id", ev.RunID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}
