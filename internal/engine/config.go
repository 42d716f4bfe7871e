package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/pkg/api"
)

const (
	// DefaultMaxInFlight bounds concurrent task attempts per run when
	// neither the definition nor the engine configure a limit.
	DefaultMaxInFlight = 4

	// DefaultPollInterval is how often a run loop re-checks approvals and
	// cancellation requests while otherwise idle.
	DefaultPollInterval = 250 * time.Millisecond
)

// Config describes how to construct an engine.
type Config struct {
	Persistence persistence.Persistence
	Executor    api.TaskExecutor
	Observer    api.Observer
	Notifier    api.NotificationSink

	// MaxInFlight is the per-run concurrency bound. A definition's own
	// MaxInFlight takes precedence.
	MaxInFlight int

	// ApprovalTimeout is used for gated tasks that do not set their own.
	ApprovalTimeout time.Duration
	PollInterval    time.Duration

	// Backoff applies to tasks without their own policy.
	Backoff api.BackoffPolicy

	Clock api.Clock
	// Random returns jitter samples in [0, 1).
	Random func() float64
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Persistence.Events == nil {
		c.Persistence.Events = persistence.NoopEventStore{}
	}
	if c.Executor == nil {
		c.Executor = api.TaskExecutorFunc(func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
			return api.TaskResult{}, api.Permanentf("no executor configured for capability %q", req.Capability)
		})
	}
	if c.Observer == nil {
		c.Observer = api.NoopObserver{}
	}
	if c.Notifier == nil {
		c.Notifier = api.NoopSink{}
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = api.DefaultApprovalTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	c.Backoff = c.Backoff.Normalize()
	if c.Clock == nil {
		c.Clock = api.SystemClock{}
	}
	if c.Random == nil {
		c.Random = rand.Float64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewInMemoryEngine returns an engine whose state lives in process memory.
func NewInMemoryEngine(exec api.TaskExecutor) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.FromStore(mem, persistence.NewInMemoryEventStore()),
		Executor:    exec,
	})
}

// NewSQLiteEngine returns an engine persisting definitions, runs, approvals
// and history in db.
func NewSQLiteEngine(db *sql.DB, exec api.TaskExecutor) (api.Engine, error) {
	p, err := SQLitePersistence(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Executor: exec}), nil
}

// SQLitePersistence builds the SQLite store set over db.
func SQLitePersistence(db *sql.DB) (persistence.Persistence, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.FromStore(store, events), nil
}

// NewPostgresEngine returns an engine backed by PostgreSQL.
func NewPostgresEngine(db *sql.DB, exec api.TaskExecutor) (api.Engine, error) {
	p, err := PostgresPersistence(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Executor: exec}), nil
}

// PostgresPersistence builds the PostgreSQL store set over db.
func PostgresPersistence(db *sql.DB) (persistence.Persistence, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	events, err := persistence.NewPostgresEventStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.FromStore(store, events), nil
}

// NewRedisEngine returns an engine backed by Redis. Run history is kept in
// memory.
func NewRedisEngine(client redis.UniversalClient, exec api.TaskExecutor) api.Engine {
	store := persistence.NewRedisStore(client, "")
	return NewEngineWithConfig(Config{
		Persistence: persistence.FromStore(store, persistence.NewInMemoryEventStore()),
		Executor:    exec,
	})
}

// NewMongoEngine returns an engine backed by MongoDB. Run history is kept in
// memory.
func NewMongoEngine(client *mongo.Client, dbName string, exec api.TaskExecutor) api.Engine {
	store := persistence.NewMongoStore(client, dbName)
	return NewEngineWithConfig(Config{
		Persistence: persistence.FromStore(store, persistence.NewInMemoryEventStore()),
		Executor:    exec,
	})
}
