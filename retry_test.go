package taskgraph

import (
	"context"
	"testing"
	"time"
)

func TestBackoffBuilder_FillsDefaults(t *testing.T) {
	p := Backoff(100 * time.Millisecond).Policy()
	if p.Base.Std() != 100*time.Millisecond {
		t.Fatalf("unexpected base %v", p.Base)
	}
	if p.Multiplier != 2 || p.Max.Std() != time.Minute || p.Jitter != 0.2 {
		t.Fatalf("expected defaults, got %+v", p)
	}
}

func TestBackoffBuilder_ClampsJitter(t *testing.T) {
	p := Backoff(time.Second).WithMultiplier(1.5).WithJitter(0.9).WithMax(10 * time.Second).Policy()
	if p.Jitter >= p.Multiplier-1 {
		t.Fatalf("jitter %v not clamped below %v", p.Jitter, p.Multiplier-1)
	}
	if p.Max.Std() != 10*time.Second {
		t.Fatalf("unexpected max %v", p.Max)
	}
}

func TestBackoffBuilder_NoJitter(t *testing.T) {
	p := Backoff(time.Second).WithJitter(NoJitter).Policy()
	if p.Jitter != NoJitter {
		t.Fatalf("expected no jitter, got %v", p.Jitter)
	}
	if p.Delay(1, 0.9) != time.Second {
		t.Fatalf("expected a fixed first delay, got %v", p.Delay(1, 0.9))
	}
}

func TestRetries_RetriesFlakyTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng := NewInMemoryEngine(BuiltinExecutor())
	New("flaky").
		Task("wobble", "fail",
			Inputs("succeed_on_attempt", 3),
			Retries(2, Backoff(time.Millisecond).WithMax(5*time.Millisecond))).
		MustRegister(ctx, eng)

	run, err := eng.Run(ctx, "flaky", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	tr := run.Task("wobble")
	if run.Status != RunCompleted || tr.Status != TaskSucceeded {
		t.Fatalf("expected success after retries, got %s/%s (%v)", run.Status, tr.Status, tr.Error)
	}
	if tr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.Attempts)
	}
}
