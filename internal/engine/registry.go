package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/taskgraph/internal/graph"
	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/pkg/api"
)

// definitionRegistry caches compiled graphs by id and version. Definitions
// that are not cached (for example after a restart) are loaded from the
// store and compiled on first use.
type definitionRegistry struct {
	store persistence.DefinitionStore

	mu   sync.RWMutex
	byID map[string]map[string]*graph.Graph
}

func newDefinitionRegistry(store persistence.DefinitionStore) *definitionRegistry {
	return &definitionRegistry{
		store: store,
		byID:  make(map[string]map[string]*graph.Graph),
	}
}

// Register validates def and stores it. Registering an identical definition
// again is a no-op; a different body under the same id and version fails.
func (r *definitionRegistry) Register(ctx context.Context, def api.WorkflowDefinition) (*graph.Graph, error) {
	if def.Version == "" {
		def.Version = api.DefaultVersion
	}
	g, err := graph.Compile(def)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.GetDefinition(ctx, def.ID, def.Version)
	switch {
	case err == nil:
		if api.DefinitionFingerprint(existing) != g.Fingerprint() {
			return nil, fmt.Errorf("%w: %s version %s", api.ErrWorkflowDefinitionMismatch, def.ID, def.Version)
		}
	case errors.Is(err, persistence.ErrDefinitionNotFound):
		if err := r.store.SaveDefinition(ctx, g.Definition()); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	r.put(g)
	return g, nil
}

// Get returns the compiled graph for id and version. An empty version
// selects the latest version known to the store.
func (r *definitionRegistry) Get(ctx context.Context, id, version string) (*graph.Graph, error) {
	if version != "" {
		if g := r.cached(id, version); g != nil {
			return g, nil
		}
	}

	def, err := r.store.GetDefinition(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if g := r.cached(def.ID, def.Version); g != nil {
		return g, nil
	}

	g, err := graph.Compile(def)
	if err != nil {
		return nil, fmt.Errorf("stored definition %s version %s: %w", def.ID, def.Version, err)
	}
	r.put(g)
	return g, nil
}

func (r *definitionRegistry) cached(id, version string) *graph.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id][version]
}

func (r *definitionRegistry) put(g *graph.Graph) {
	def := g.Definition()

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.byID[def.ID]
	if versions == nil {
		versions = make(map[string]*graph.Graph)
		r.byID[def.ID] = versions
	}
	versions[def.Version] = g
}
