package persistence

import (
	"context"

	"github.com/petrijr/taskgraph/pkg/api"
)

var (
	// ErrDefinitionNotFound is returned when a workflow definition is not found.
	ErrDefinitionNotFound = api.ErrDefinitionNotFound

	// ErrRunNotFound is returned when a workflow run is not found.
	ErrRunNotFound = api.ErrRunNotFound

	// ErrApprovalNotFound is returned when an approval request is not found.
	ErrApprovalNotFound = api.ErrApprovalNotFound

	// ErrVersionConflict is returned by SaveRun when the stored version does
	// not match the version the caller loaded.
	ErrVersionConflict = api.ErrVersionConflict
)

// DefinitionStore handles storage of workflow definitions.
type DefinitionStore interface {
	// SaveDefinition stores def under its id and version. Saving an id and
	// version that already exist leaves the stored copy untouched.
	SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error
	// GetDefinition returns a definition; an empty version selects the most
	// recently saved one.
	GetDefinition(ctx context.Context, id, version string) (api.WorkflowDefinition, error)
	ListDefinitionVersions(ctx context.Context, id string) ([]string, error)
}

// RunFilter is used to select runs from the store.
// Empty string / zero status mean "no filter" for that field.
type RunFilter struct {
	DefinitionID string
	Status       api.RunStatus
}

func (f RunFilter) match(run *api.WorkflowRun) bool {
	if f.DefinitionID != "" && run.DefinitionID != f.DefinitionID {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	return true
}

// RunStore handles storage of workflow runs.
//
// SaveRun is an atomic compare-and-swap on WorkflowRun.Version: it succeeds
// only if the stored version equals run.Version, and bumps run.Version on
// success. This is the per-run atomic read-modify-write that crash-resume
// relies on.
type RunStore interface {
	// CreateRun inserts a new run and sets run.Version to 1.
	CreateRun(ctx context.Context, run *api.WorkflowRun) error
	LoadRun(ctx context.Context, id string) (*api.WorkflowRun, error)
	SaveRun(ctx context.Context, run *api.WorkflowRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*api.WorkflowRun, error)

	// RequestCancel flags a run for cancellation. The flag lives outside the
	// versioned run body so that the run's owner stays its only writer.
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// ApprovalStore handles storage of approval requests.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, req *api.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*api.ApprovalRequest, error)
	// DecideApproval records res if the request is still pending. It returns
	// the stored request and whether this call recorded the decision; a
	// request that was already decided is returned unchanged.
	DecideApproval(ctx context.Context, id string, res api.ApprovalResolution) (*api.ApprovalRequest, bool, error)
	ListPendingApprovals(ctx context.Context) ([]*api.ApprovalRequest, error)
}
