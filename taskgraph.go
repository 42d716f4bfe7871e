package taskgraph

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/taskgraph/internal/engine"
	"github.com/petrijr/taskgraph/internal/graph"
	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/internal/taskqueue"
	"github.com/petrijr/taskgraph/pkg/api"
	"github.com/petrijr/taskgraph/pkg/executor"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine             = api.Engine
	WorkflowDefinition = api.WorkflowDefinition
	TaskSpec           = api.TaskSpec
	ApprovalPolicy     = api.ApprovalPolicy
	BackoffPolicy      = api.BackoffPolicy
	Duration           = api.Duration
	WorkflowRun        = api.WorkflowRun
	TaskRun            = api.TaskRun
	RunStatus          = api.RunStatus
	TaskStatus         = api.TaskStatus
	RunListOptions     = api.RunListOptions
	RunStatusReport    = api.RunStatusReport
	RunEvent           = api.RunEvent
	ApprovalRequest    = api.ApprovalRequest
	TaskExecutor       = api.TaskExecutor
	TaskExecutorFunc   = api.TaskExecutorFunc
	TaskRequest        = api.TaskRequest
	TaskResult         = api.TaskResult
	Notification       = api.Notification
	NotificationSink   = api.NotificationSink

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Queue = taskqueue.Queue
	Task  = taskqueue.Task
)

// Re-export status values for convenience.

const (
	RunCreated    = api.RunCreated
	RunRunning    = api.RunRunning
	RunCancelling = api.RunCancelling
	RunCompleted  = api.RunCompleted
	RunFailed     = api.RunFailed
	RunCancelled  = api.RunCancelled

	TaskPending         = api.TaskPending
	TaskReady           = api.TaskReady
	TaskRunning         = api.TaskRunning
	TaskWaitingApproval = api.TaskWaitingApproval
	TaskSucceeded       = api.TaskSucceeded
	TaskFailed          = api.TaskFailed
	TaskSkipped         = api.TaskSkipped
	TaskCancelled       = api.TaskCancelled
	TaskTimedOut        = api.TaskTimedOut

	NoJitter = api.NoJitter
)

// Re-export helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	Transient   = api.Transient
	Permanent   = api.Permanent
	IsPermanent = api.IsPermanent

	ParseDefinitionYAML = api.ParseDefinitionYAML
	LoadDefinitionFile  = api.LoadDefinitionFile
)

// Validate checks a definition without registering it.
func Validate(def WorkflowDefinition) error {
	return graph.Validate(def)
}

// BuiltinExecutor returns an executor with the echo, sleep and fail
// capabilities registered. More can be added with Register.
func BuiltinExecutor() *executor.Registry {
	return executor.Builtins()
}

// Option tunes an engine built by one of the constructors below.
type Option func(*engine.Config)

// WithObserver installs an Observer.
func WithObserver(obs Observer) Option {
	return func(c *engine.Config) { c.Observer = obs }
}

// WithNotifier installs a NotificationSink.
func WithNotifier(sink NotificationSink) Option {
	return func(c *engine.Config) { c.Notifier = sink }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *engine.Config) { c.Logger = l }
}

// WithMaxInFlight sets the default per-run concurrency bound.
func WithMaxInFlight(n int) Option {
	return func(c *engine.Config) { c.MaxInFlight = n }
}

// WithApprovalTimeout sets the default approval expiry.
func WithApprovalTimeout(d time.Duration) Option {
	return func(c *engine.Config) { c.ApprovalTimeout = d }
}

// WithBackoff sets the retry backoff for tasks without their own.
func WithBackoff(p BackoffPolicy) Option {
	return func(c *engine.Config) { c.Backoff = p }
}

// WithPollInterval sets how often idle runs re-check approvals and
// cancellation.
func WithPollInterval(d time.Duration) Option {
	return func(c *engine.Config) { c.PollInterval = d }
}

func newEngine(p persistence.Persistence, exec TaskExecutor, opts []Option) Engine {
	cfg := engine.Config{Persistence: p, Executor: exec}
	for _, o := range opts {
		o(&cfg)
	}
	return engine.NewEngineWithConfig(cfg)
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine(exec TaskExecutor, opts ...Option) Engine {
	p := persistence.FromStore(persistence.NewInMemoryStore(), persistence.NewInMemoryEventStore())
	return newEngine(p, exec, opts)
}

// NewSQLiteEngine returns an Engine that persists definitions, runs,
// approvals and history in a SQLite database.
func NewSQLiteEngine(db *sql.DB, exec TaskExecutor, opts ...Option) (Engine, error) {
	p, err := engine.SQLitePersistence(db)
	if err != nil {
		return nil, err
	}
	return newEngine(p, exec, opts), nil
}

// NewPostgresEngine returns an Engine that persists state in PostgreSQL.
// db must use the pgx stdlib driver.
func NewPostgresEngine(db *sql.DB, exec TaskExecutor, opts ...Option) (Engine, error) {
	p, err := engine.PostgresPersistence(db)
	if err != nil {
		return nil, err
	}
	return newEngine(p, exec, opts), nil
}

// NewRedisEngine returns an Engine that persists state in Redis. Keys are
// namespaced by prefix; an empty prefix selects "taskgraph:". Run history
// is kept in memory.
func NewRedisEngine(client redis.UniversalClient, prefix string, exec TaskExecutor, opts ...Option) Engine {
	p := persistence.FromStore(persistence.NewRedisStore(client, prefix), persistence.NewInMemoryEventStore())
	return newEngine(p, exec, opts)
}

// NewMongoEngine returns an Engine that persists state in MongoDB database
// dbName. Run history is kept in memory.
func NewMongoEngine(client *mongo.Client, dbName string, exec TaskExecutor, opts ...Option) Engine {
	p := persistence.FromStore(persistence.NewMongoStore(client, dbName), persistence.NewInMemoryEventStore())
	return newEngine(p, exec, opts)
}

// Queue constructors

// NewInMemoryQueue returns a channel-backed queue.
func NewInMemoryQueue(capacity int) Queue {
	return taskqueue.NewInMemoryQueue(capacity)
}

// NewSQLiteQueue returns a queue persisted in db.
func NewSQLiteQueue(db *sql.DB) (Queue, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewRedisQueue returns a queue stored in a Redis list.
func NewRedisQueue(client redis.UniversalClient, prefix string) Queue {
	return taskqueue.NewRedisQueue(client, prefix)
}

// NewPostgresQueue returns a queue persisted in a PostgreSQL table. Several
// processes may consume it concurrently.
func NewPostgresQueue(db *sql.DB) (Queue, error) {
	q, err := taskqueue.NewPostgresQueue(db)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewMongoQueue returns a queue stored in the "queue" collection of dbName.
func NewMongoQueue(client *mongo.Client, dbName string) Queue {
	return taskqueue.NewMongoQueue(client, dbName, "")
}
