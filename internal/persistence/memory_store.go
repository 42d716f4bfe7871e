package persistence

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/petrijr/taskgraph/pkg/api"
)

// InMemoryStore is a goroutine-safe Store backed by maps. Every read and
// write copies the run, so callers never share state with the store.
type InMemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]map[string]api.WorkflowDefinition
	versions    map[string][]string // registration order
	runs        map[string]*api.WorkflowRun
	runOrder    []string
	cancels     map[string]bool
	approvals   map[string]*api.ApprovalRequest
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		definitions: make(map[string]map[string]api.WorkflowDefinition),
		versions:    make(map[string][]string),
		runs:        make(map[string]*api.WorkflowRun),
		cancels:     make(map[string]bool),
		approvals:   make(map[string]*api.ApprovalRequest),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := versionOf(def)
	byVersion := s.definitions[def.ID]
	if byVersion == nil {
		byVersion = make(map[string]api.WorkflowDefinition)
		s.definitions[def.ID] = byVersion
	}
	if _, exists := byVersion[version]; exists {
		return nil
	}
	def.Version = version
	byVersion[version] = def
	s.versions[def.ID] = append(s.versions[def.ID], version)
	return nil
}

func (s *InMemoryStore) GetDefinition(ctx context.Context, id, version string) (api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == "" {
		vs := s.versions[id]
		if len(vs) == 0 {
			return api.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
		}
		version = vs[len(vs)-1]
	}
	def, ok := s.definitions[id][version]
	if !ok {
		return api.WorkflowDefinition{}, fmt.Errorf("%w: %s@%s", ErrDefinitionNotFound, id, version)
	}
	return def, nil
}

func (s *InMemoryStore) ListDefinitionVersions(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.versions[id]), nil
}

func (s *InMemoryStore) CreateRun(ctx context.Context, run *api.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %q already exists", run.ID)
	}
	run.Version = 1
	s.runs[run.ID] = run.Clone()
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *InMemoryStore) LoadRun(ctx context.Context, id string) (*api.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *InMemoryStore) SaveRun(ctx context.Context, run *api.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	if cur.Version != run.Version {
		return ErrVersionConflict
	}
	run.Version++
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowRun
	for _, id := range s.runOrder {
		run := s.runs[id]
		if filter.match(run) {
			result = append(result, run.Clone())
		}
	}
	return result, nil
}

func (s *InMemoryStore) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return ErrRunNotFound
	}
	s.cancels[id] = true
	return nil
}

func (s *InMemoryStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancels[id], nil
}

func (s *InMemoryStore) CreateApproval(ctx context.Context, req *api.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.approvals[req.ID]; exists {
		return fmt.Errorf("approval %q already exists", req.ID)
	}
	s.approvals[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) GetApproval(ctx context.Context, id string) (*api.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.approvals[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	return req.Clone(), nil
}

func (s *InMemoryStore) DecideApproval(ctx context.Context, id string, res api.ApprovalResolution) (*api.ApprovalRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.approvals[id]
	if !ok {
		return nil, false, ErrApprovalNotFound
	}
	if req.Decision.Resolved() {
		return req.Clone(), false, nil
	}
	applyDecision(req, res)
	return req.Clone(), true, nil
}

func (s *InMemoryStore) ListPendingApprovals(ctx context.Context) ([]*api.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.ApprovalRequest
	for _, req := range s.approvals {
		if !req.Decision.Resolved() {
			out = append(out, req.Clone())
		}
	}
	sortApprovals(out)
	return out, nil
}

func sortApprovals(reqs []*api.ApprovalRequest) {
	slices.SortFunc(reqs, func(a, b *api.ApprovalRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
