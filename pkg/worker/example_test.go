package worker_test

import (
	"context"
	"fmt"
	"log"

	"github.com/petrijr/taskgraph"
	"github.com/petrijr/taskgraph/pkg/worker"
)

// ExampleWorker enqueues a run and drives it with a single ProcessOne call.
func ExampleWorker() {
	ctx := context.Background()

	eng := taskgraph.NewInMemoryEngine(taskgraph.BuiltinExecutor())
	queue := taskgraph.NewInMemoryQueue(1024)

	def := taskgraph.New("background-job").
		Task("work", "echo", taskgraph.Inputs("msg", "{{ variables.msg }}")).
		Definition()
	if err := eng.RegisterDefinition(ctx, def); err != nil {
		log.Fatal(err)
	}

	w := worker.NewWithConfig(eng, queue, worker.Config{MaxAttempts: 3})

	runID, err := w.EnqueueRun(ctx, def.ID, map[string]any{"msg": "payload"})
	if err != nil {
		log.Fatal(err)
	}

	if _, err := w.ProcessOne(ctx); err != nil {
		log.Fatal(err)
	}

	run, err := eng.GetRun(ctx, runID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(run.Status, run.Task("work").Outputs["msg"])
	// Output: COMPLETED payload
}
