// Package worker drives taskgraph runs from a task queue.
//
// A worker dequeues execute-run and resume-run tasks and hands each run id
// to Engine.Execute. Executing a run is idempotent with respect to finished
// state: a terminal run is returned as-is, and a run left Running by a
// crashed process is resumed with its in-flight attempts marked lost.
//
// Task-level retries, timeouts and approvals are the engine's business. The
// worker only retries the delivery itself: when Execute fails for reasons
// outside the run (a store outage, a cancelled context) the task is put back
// on the queue up to Config.MaxAttempts times, Attempts*Backoff apart. Runs
// that are already executing elsewhere or no longer exist are dropped.
//
// # Recovery
//
// EnqueueRecovered asks the engine for abandoned runs and enqueues a
// resume-run task for each. Call it once at process start, before workers
// begin draining the queue.
//
// # Usage
//
// Most applications use the helpers in the root taskgraph package
// (NewLocalRunner, NewSQLiteBundle). Construct a Worker directly to pair an
// engine with a custom queue or to drive ProcessOne from your own loop.
package worker
