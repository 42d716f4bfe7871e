// Package taskgraph provides an embeddable engine for running workflows
// expressed as directed acyclic graphs of tasks.
//
// A workflow definition names its tasks, the capability that runs each one,
// and the dependencies between them. The engine validates the graph,
// schedules every task whose dependencies are satisfied, runs independent
// branches concurrently under a per-run bound, retries transient failures
// with exponential backoff, pauses gated tasks until a human approves them,
// and persists every state change so that an interrupted run can be resumed
// by another process.
//
// # Core Concepts
//
//  1. Engine
//  2. TaskExecutor
//  3. DefinitionBuilder
//  4. Worker
//  5. LocalRunner
//
// # Engine
//
// The Engine stores definitions and runs and provides APIs to:
//   - register and version definitions
//   - create, start, execute and await runs
//   - cancel runs cooperatively
//   - approve or reject gated tasks
//   - read run state, status reports and history
//   - find runs abandoned by a crashed process
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - PostgreSQL
//   - Redis
//   - MongoDB
//
// # TaskExecutor
//
// A TaskExecutor runs one attempt of a task. It receives the rendered
// inputs and returns outputs and an actual cost. Errors wrapped with
// Permanent fail the task at once; any other error is retried while the
// task's MaxRetries allow. Executors must honour ctx: it is how timeouts and
// cancellation reach in-flight work. BuiltinExecutor returns a registry with
// a few capabilities useful for trying the engine out.
//
// # DefinitionBuilder
//
// Definitions are plain data and may be loaded from YAML or JSON with
// LoadDefinitionFile. DefinitionBuilder builds them in Go:
//
//	taskgraph.New("nightly").
//	    Task("extract", "etl.extract").
//	    Task("transform", "etl.transform", taskgraph.DependsOn("extract"),
//	        taskgraph.Inputs("rows", "{{ tasks.extract.outputs.rows }}")).
//	    Task("publish", "etl.publish", taskgraph.DependsOn("transform"),
//	        taskgraph.When("tasks.transform.outputs.count > 0"),
//	        taskgraph.RequiresApproval("publish tonight's data?"))
//
// Input templates and conditions reference run variables as variables.X and
// upstream results as tasks.<id>.outputs.Y; conditions may also test
// tasks.<id>.status. A reference to something that does not exist makes any
// comparison false.
//
// # Worker
//
// A Worker pulls execute and resume tasks from a queue and drives the runs
// they name. NewSQLiteBundle wires an engine, a durable queue and a worker
// over one database.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory engine, queue and workers into a single,
// process-local helper useful for development and unit testing. It is
// intentionally not crash-durable.
package taskgraph
