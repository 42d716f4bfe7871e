// Package api contains the types and interfaces shared by every part of the
// taskgraph orchestration engine: workflow definitions, run state, the error
// taxonomy, and the narrow interfaces through which the engine talks to the
// outside world.
//
// Most users interact with the root taskgraph package, which re-exports the
// common types and constructors. The api package is intended for custom
// integrations: executors, notification sinks, observers and stores.
//
// # Definitions
//
// A WorkflowDefinition is an immutable graph of TaskSpec nodes. Each task
// names an executor capability, an input template, its dependencies, an
// optional condition, a timeout, a retry budget and an optional approval
// gate. Definitions are usually written in YAML and loaded with
// ParseDefinitionYAML or LoadDefinitionFile:
//
//	id: publish
//	tasks:
//	  - id: draft
//	    capability: llm.generate
//	    inputs: {topic: "{{ variables.topic }}"}
//	  - id: review
//	    capability: publish
//	    depends_on: [draft]
//	    requires_approval: true
//	    condition: tasks.draft.outputs.score >= 0.8
//
// # Runs
//
// A WorkflowRun is one execution of a definition. It holds one TaskRun per
// task, the variable bindings, accumulated cost and an optimistic version
// used by stores to make every save an atomic compare-and-swap.
//
// # Errors
//
// Validation failures are DefinitionError values and wrap
// ErrInvalidDefinition. Executors report failures as ExecutionError; use
// Transient and Permanent to classify them. Unclassified errors are retried.
//
// # Observability
//
// Observer receives lifecycle callbacks. LoggingObserver writes them to a
// slog.Logger and BasicMetrics keeps in-process counters; combine several
// with NewCompositeObserver. NotificationSink receives the coarser
// notifications meant for humans (approval requested, run finished).
package api
