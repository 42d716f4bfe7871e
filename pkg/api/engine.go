package api

import "context"

// Engine is the control surface of the orchestration engine.
type Engine interface {
	// RegisterDefinition validates and stores a definition. Registering the
	// same id and version twice is a no-op when the bodies match and fails
	// with ErrWorkflowDefinitionMismatch otherwise.
	RegisterDefinition(ctx context.Context, def WorkflowDefinition) error

	// CreateRun persists a new run in RunCreated without executing it. An
	// empty version selects the latest registered version.
	CreateRun(ctx context.Context, definitionID, version string, vars map[string]any) (*WorkflowRun, error)

	// StartRun creates a run and drives it in the background. It returns as
	// soon as the run is persisted.
	StartRun(ctx context.Context, definitionID string, vars map[string]any) (string, error)

	// Run creates a run and drives it to a terminal state.
	Run(ctx context.Context, definitionID string, vars map[string]any) (*WorkflowRun, error)

	// Execute drives an existing run until it is terminal or ctx is done.
	// A run left non-terminal by a crashed process is resumed.
	Execute(ctx context.Context, runID string) (*WorkflowRun, error)

	// Await blocks until the run is terminal or ctx is done.
	Await(ctx context.Context, runID string) (*WorkflowRun, error)

	// CancelRun requests cooperative cancellation.
	CancelRun(ctx context.Context, runID string) error

	// ResolveApproval records a human decision. It is idempotent: resolving
	// an already-decided request returns the prior decision unchanged.
	ResolveApproval(ctx context.Context, requestID string, approved bool, actor, comment string) (*ApprovalRequest, error)

	GetStatus(ctx context.Context, runID string) (*RunStatusReport, error)
	GetRun(ctx context.Context, runID string) (*WorkflowRun, error)
	ListRuns(ctx context.Context, opts RunListOptions) ([]*WorkflowRun, error)
	ListPendingApprovals(ctx context.Context) ([]*ApprovalRequest, error)
	ListEvents(ctx context.Context, runID string) ([]RunEvent, error)

	// RecoverRuns returns the ids of non-terminal runs that are not being
	// executed by this engine, typically left over from a crashed process.
	// Callers pass them to Execute (directly or through a worker queue).
	RecoverRuns(ctx context.Context) ([]string, error)
}
