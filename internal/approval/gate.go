// Package approval implements the human approval gate:
//
//	NotRequested -> Requested -> {Approved, Rejected, Expired}
//
// Requests live in an ApprovalStore; every transition out of Requested is a
// compare-and-set there, so the first decision wins no matter whether it
// came from a human, the expiry check or a run cancellation.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/pkg/api"
)

// Gate opens, checks and resolves approval requests.
type Gate struct {
	store          persistence.ApprovalStore
	sink           api.NotificationSink
	clock          api.Clock
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Options configures a Gate. Zero values select defaults.
type Options struct {
	Sink           api.NotificationSink
	Clock          api.Clock
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// New creates a Gate over store.
func New(store persistence.ApprovalStore, opts Options) *Gate {
	g := &Gate{
		store:          store,
		sink:           opts.Sink,
		clock:          opts.Clock,
		defaultTimeout: opts.DefaultTimeout,
		logger:         opts.Logger,
	}
	if g.sink == nil {
		g.sink = api.NoopSink{}
	}
	if g.clock == nil {
		g.clock = api.SystemClock{}
	}
	if g.defaultTimeout <= 0 {
		g.defaultTimeout = api.DefaultApprovalTimeout
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Open creates a pending request for a gated task and notifies the sink.
// A failed notification is logged; the request stays open.
func (g *Gate) Open(ctx context.Context, run *api.WorkflowRun, spec api.TaskSpec) (*api.ApprovalRequest, error) {
	now := g.clock.Now()
	timeout := g.defaultTimeout
	req := &api.ApprovalRequest{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		TaskID:    spec.ID,
		CreatedAt: now,
		Decision:  api.DecisionPending,
	}
	if p := spec.Approval; p != nil {
		req.Description = p.Description
		req.Permission = p.Permission
		if p.Timeout > 0 {
			timeout = p.Timeout.Std()
		}
	}
	if req.Description == "" {
		req.Description = spec.Description
	}
	req.ExpiresAt = now.Add(timeout)

	if err := g.store.CreateApproval(ctx, req); err != nil {
		return nil, err
	}

	n := api.Notification{
		Type:         api.NotifyApprovalRequested,
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		TaskID:       spec.ID,
		ApprovalID:   req.ID,
		At:           now,
		Payload: map[string]any{
			"description": req.Description,
			"permission":  req.Permission,
			"expires_at":  req.ExpiresAt,
		},
	}
	if err := g.sink.Notify(ctx, n); err != nil {
		g.logger.WarnContext(ctx, "approval notification failed",
			slog.String("approval_id", req.ID),
			slog.Any("error", err),
		)
	}
	return req, nil
}

// Resolve records a human decision. Resolving an already decided request is
// a no-op that returns the recorded decision. A request past its deadline is
// expired instead, even if no run loop has checked it yet.
func (g *Gate) Resolve(ctx context.Context, id string, approved bool, actor, comment string) (*api.ApprovalRequest, error) {
	current, err := g.Check(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Decision.Resolved() {
		return current, nil
	}
	decision := api.DecisionRejected
	if approved {
		decision = api.DecisionApproved
	}
	req, _, err := g.decide(ctx, id, decision, actor, comment)
	return req, err
}

// Check returns the current state of a request, expiring it first when its
// deadline has passed.
func (g *Gate) Check(ctx context.Context, id string) (*api.ApprovalRequest, error) {
	req, err := g.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Decision.Resolved() || g.clock.Now().Before(req.ExpiresAt) {
		return req, nil
	}
	req, _, err = g.decide(ctx, id, api.DecisionExpired, "", "approval timed out")
	return req, err
}

// Withdraw resolves a pending request as cancelled. It is used when the run
// is cancelled while waiting.
func (g *Gate) Withdraw(ctx context.Context, id string) error {
	_, _, err := g.decide(ctx, id, api.DecisionCancelled, "", "run cancelled")
	if errors.Is(err, persistence.ErrApprovalNotFound) {
		return nil
	}
	return err
}

func (g *Gate) decide(ctx context.Context, id string, d api.ApprovalDecision, actor, comment string) (*api.ApprovalRequest, bool, error) {
	return g.store.DecideApproval(ctx, id, api.ApprovalResolution{
		Decision: d,
		Actor:    actor,
		Comment:  comment,
		At:       g.clock.Now(),
	})
}

// Pending lists every undecided request.
func (g *Gate) Pending(ctx context.Context) ([]*api.ApprovalRequest, error) {
	return g.store.ListPendingApprovals(ctx)
}

// Get returns a request without touching its state.
func (g *Gate) Get(ctx context.Context, id string) (*api.ApprovalRequest, error) {
	return g.store.GetApproval(ctx, id)
}
