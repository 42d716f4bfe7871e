package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/taskgraph/pkg/api"
)

// StoreSuite is the behaviour every Store backend must share. Backends that
// keep state across tests (containers) are fine: every test uses fresh ids.
type StoreSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func sampleRun(defID string) *api.WorkflowRun {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &api.WorkflowRun{
		ID:                newID("run"),
		DefinitionID:      defID,
		DefinitionVersion: "v1",
		Status:            api.RunCreated,
		Variables:         map[string]any{"topic": "go"},
		CreatedAt:         now,
		Tasks: []*api.TaskRun{
			{TaskID: "a", Status: api.TaskPending},
			{TaskID: "b", Status: api.TaskPending},
		},
	}
}

func (s *StoreSuite) TestDefinitionVersions() {
	id := newID("def")
	v1 := api.WorkflowDefinition{ID: id, Version: "v1", Tasks: []api.TaskSpec{{ID: "a", Capability: "echo"}}}
	v2 := api.WorkflowDefinition{ID: id, Version: "v2", Tasks: []api.TaskSpec{{ID: "b", Capability: "echo"}}}

	require.NoError(s.T(), s.store.SaveDefinition(s.ctx, v1))
	require.NoError(s.T(), s.store.SaveDefinition(s.ctx, v2))

	latest, err := s.store.GetDefinition(s.ctx, id, "")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "v2", latest.Version)

	got, err := s.store.GetDefinition(s.ctx, id, "v1")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "a", got.Tasks[0].ID)

	// Saving an existing version keeps the first body.
	changed := v1
	changed.Tasks = []api.TaskSpec{{ID: "z", Capability: "echo"}}
	require.NoError(s.T(), s.store.SaveDefinition(s.ctx, changed))
	got, err = s.store.GetDefinition(s.ctx, id, "v1")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "a", got.Tasks[0].ID)

	versions, err := s.store.ListDefinitionVersions(s.ctx, id)
	require.NoError(s.T(), err)
	require.Equal(s.T(), []string{"v1", "v2"}, versions)
}

func (s *StoreSuite) TestDefinitionNotFound() {
	_, err := s.store.GetDefinition(s.ctx, newID("missing"), "")
	require.ErrorIs(s.T(), err, ErrDefinitionNotFound)
	_, err = s.store.GetDefinition(s.ctx, newID("missing"), "v9")
	require.ErrorIs(s.T(), err, ErrDefinitionNotFound)
}

func (s *StoreSuite) TestRunCompareAndSwap() {
	run := sampleRun(newID("def"))
	require.NoError(s.T(), s.store.CreateRun(s.ctx, run))
	require.EqualValues(s.T(), 1, run.Version)

	first, err := s.store.LoadRun(s.ctx, run.ID)
	require.NoError(s.T(), err)
	stale, err := s.store.LoadRun(s.ctx, run.ID)
	require.NoError(s.T(), err)

	first.Status = api.RunRunning
	first.Tasks[0].Status = api.TaskSucceeded
	first.Tasks[0].Outputs = map[string]any{"text": "hi", "nested": map[string]any{"n": 2.5}}
	first.Tasks[0].ActualCost = 0.25
	require.NoError(s.T(), s.store.SaveRun(s.ctx, first))
	require.EqualValues(s.T(), 2, first.Version)

	stale.Status = api.RunCancelled
	err = s.store.SaveRun(s.ctx, stale)
	require.ErrorIs(s.T(), err, ErrVersionConflict)
	require.EqualValues(s.T(), 1, stale.Version, "failed save must not bump the caller's version")

	loaded, err := s.store.LoadRun(s.ctx, run.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), api.RunRunning, loaded.Status)
	require.EqualValues(s.T(), 2, loaded.Version)
	require.Equal(s.T(), "hi", loaded.Tasks[0].Outputs["text"])
	require.Equal(s.T(), 2.5, loaded.Tasks[0].Outputs["nested"].(map[string]any)["n"])
	require.Equal(s.T(), 0.25, loaded.Tasks[0].ActualCost)
	require.Equal(s.T(), "go", loaded.Variables["topic"])
}

func (s *StoreSuite) TestConcurrentSaveOneWins() {
	run := sampleRun(newID("def"))
	require.NoError(s.T(), s.store.CreateRun(s.ctx, run))

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < writers; i++ {
		copyRun, err := s.store.LoadRun(s.ctx, run.ID)
		require.NoError(s.T(), err)
		wg.Add(1)
		go func(r *api.WorkflowRun) {
			defer wg.Done()
			r.Status = api.RunRunning
			err := s.store.SaveRun(s.ctx, r)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrVersionConflict):
				conflicts++
			}
		}(copyRun)
	}
	wg.Wait()
	require.Equal(s.T(), 1, wins)
	require.Equal(s.T(), writers-1, conflicts)
}

func (s *StoreSuite) TestRunNotFound() {
	_, err := s.store.LoadRun(s.ctx, newID("nope"))
	require.ErrorIs(s.T(), err, ErrRunNotFound)

	ghost := sampleRun("def")
	ghost.Version = 1
	require.ErrorIs(s.T(), s.store.SaveRun(s.ctx, ghost), ErrRunNotFound)
	require.ErrorIs(s.T(), s.store.RequestCancel(s.ctx, ghost.ID), ErrRunNotFound)
}

func (s *StoreSuite) TestListRunsFilters() {
	defA, defB := newID("def-a"), newID("def-b")
	r1 := sampleRun(defA)
	r2 := sampleRun(defA)
	r2.CreatedAt = r1.CreatedAt.Add(time.Millisecond)
	r3 := sampleRun(defB)
	for _, r := range []*api.WorkflowRun{r1, r2, r3} {
		require.NoError(s.T(), s.store.CreateRun(s.ctx, r))
	}
	r2.Status = api.RunCompleted
	require.NoError(s.T(), s.store.SaveRun(s.ctx, r2))

	runs, err := s.store.ListRuns(s.ctx, RunFilter{DefinitionID: defA})
	require.NoError(s.T(), err)
	require.Len(s.T(), runs, 2)
	require.Equal(s.T(), r1.ID, runs[0].ID)
	require.Equal(s.T(), r2.ID, runs[1].ID)

	runs, err = s.store.ListRuns(s.ctx, RunFilter{DefinitionID: defA, Status: api.RunCompleted})
	require.NoError(s.T(), err)
	require.Len(s.T(), runs, 1)
	require.Equal(s.T(), r2.ID, runs[0].ID)
}

func (s *StoreSuite) TestCancelRequestDoesNotBumpVersion() {
	run := sampleRun(newID("def"))
	require.NoError(s.T(), s.store.CreateRun(s.ctx, run))

	requested, err := s.store.CancelRequested(s.ctx, run.ID)
	require.NoError(s.T(), err)
	require.False(s.T(), requested)

	require.NoError(s.T(), s.store.RequestCancel(s.ctx, run.ID))
	requested, err = s.store.CancelRequested(s.ctx, run.ID)
	require.NoError(s.T(), err)
	require.True(s.T(), requested)

	// The owner can still save with the version it holds.
	run.Status = api.RunCancelling
	require.NoError(s.T(), s.store.SaveRun(s.ctx, run))
}

func (s *StoreSuite) TestApprovalDecisionIsFirstWins() {
	runID := newID("run")
	req := &api.ApprovalRequest{
		ID:        newID("appr"),
		RunID:     runID,
		TaskID:    "deploy",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Decision:  api.DecisionPending,
	}
	require.NoError(s.T(), s.store.CreateApproval(s.ctx, req))

	pending, err := s.store.ListPendingApprovals(s.ctx)
	require.NoError(s.T(), err)
	require.True(s.T(), containsApproval(pending, req.ID))

	got, applied, err := s.store.DecideApproval(s.ctx, req.ID, api.ApprovalResolution{
		Decision: api.DecisionApproved, Actor: "alice", Comment: "ship it", At: time.Now().UTC(),
	})
	require.NoError(s.T(), err)
	require.True(s.T(), applied)
	require.Equal(s.T(), api.DecisionApproved, got.Decision)

	got, applied, err = s.store.DecideApproval(s.ctx, req.ID, api.ApprovalResolution{
		Decision: api.DecisionRejected, Actor: "bob", At: time.Now().UTC(),
	})
	require.NoError(s.T(), err)
	require.False(s.T(), applied)
	require.Equal(s.T(), api.DecisionApproved, got.Decision)
	require.Equal(s.T(), "alice", got.DecidedBy)
	require.Equal(s.T(), "ship it", got.Comment)

	pending, err = s.store.ListPendingApprovals(s.ctx)
	require.NoError(s.T(), err)
	require.False(s.T(), containsApproval(pending, req.ID))

	_, _, err = s.store.DecideApproval(s.ctx, newID("ghost"), api.ApprovalResolution{Decision: api.DecisionApproved})
	require.ErrorIs(s.T(), err, ErrApprovalNotFound)
}

func containsApproval(reqs []*api.ApprovalRequest, id string) bool {
	for _, r := range reqs {
		if r.ID == id {
			return true
		}
	}
	return false
}
