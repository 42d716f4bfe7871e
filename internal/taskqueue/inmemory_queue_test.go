package taskqueue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryQueue_EnqueueDequeueOrder(t *testing.T) {
	q := NewInMemoryQueue(0)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := q.Enqueue(ctx, Task{ID: id, Type: TaskTypeExecuteRun, RunID: id}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected Len 3, got %d", q.Len())
	}

	for _, want := range []string{"r1", "r2", "r3"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.RunID != want {
			t.Fatalf("expected %s, got %s", want, got.RunID)
		}
		if got.Attempts != 1 {
			t.Fatalf("expected attempts 1, got %d", got.Attempts)
		}
		if got.EnqueuedAt.IsZero() {
			t.Fatalf("expected EnqueuedAt to be stamped")
		}
	}

	if q.Len() != 0 {
		t.Fatalf("expected Len 0 after dequeues, got %d", q.Len())
	}
}

func TestInMemoryQueue_DequeueHonorsContextCancellation(t *testing.T) {
	q := NewInMemoryQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatalf("expected Dequeue to fail due to context cancellation")
	}
}

func TestInMemoryQueue_WaitsForNotBefore(t *testing.T) {
	q := NewInMemoryQueue(1)
	ctx := context.Background()

	delay := 40 * time.Millisecond
	if err := q.Enqueue(ctx, Task{Type: TaskTypeResumeRun, RunID: "r", NotBefore: time.Now().Add(delay)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	start := time.Now()
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay/2 {
		t.Fatalf("task delivered too early: %v", elapsed)
	}
	if got.Type != TaskTypeResumeRun {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestInMemoryQueue_CancelledWaitKeepsTask(t *testing.T) {
	q := NewInMemoryQueue(1)
	if err := q.Enqueue(context.Background(), Task{RunID: "r", NotBefore: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatalf("expected cancellation")
	}

	deadline := time.Now().Add(time.Second)
	for q.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("task was lost after cancelled wait")
		}
		time.Sleep(time.Millisecond)
	}
}
