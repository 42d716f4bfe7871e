package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/taskgraph/pkg/api"
)

// Builtins returns a registry preloaded with the echo, sleep and fail
// capabilities. Callers may register more on the returned value.
func Builtins() *Registry {
	return NewRegistry().
		MustRegister("echo", Echo).
		MustRegister("sleep", Sleep).
		MustRegister("fail", Fail)
}

// Echo returns its inputs as outputs. A numeric "cost" input is reported as
// the attempt's cost.
func Echo(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
	out := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		out[k] = v
	}
	cost, _ := number(req.Inputs["cost"])
	return api.TaskResult{Outputs: out, Cost: cost}, nil
}

// Sleep waits for the "duration" input, either a Go duration string or a
// number of milliseconds, and honours cancellation.
func Sleep(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
	d, err := duration(req.Inputs["duration"])
	if err != nil {
		return api.TaskResult{}, api.Permanent(err)
	}

	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return api.TaskResult{Outputs: map[string]any{"slept": d.String()}}, nil
	case <-ctx.Done():
		return api.TaskResult{}, ctx.Err()
	}
}

// Fail returns an error built from the "message" input. With "permanent"
// true the error is permanent, otherwise transient. When
// "succeed_on_attempt" is set, attempts from that number on succeed.
func Fail(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
	if n, ok := number(req.Inputs["succeed_on_attempt"]); ok && n > 0 && req.Attempt >= int(n) {
		return api.TaskResult{Outputs: map[string]any{"attempt": req.Attempt}}, nil
	}

	msg, _ := req.Inputs["message"].(string)
	if msg == "" {
		msg = "task failed"
	}
	err := fmt.Errorf("%s (attempt %d)", msg, req.Attempt)
	if permanent, _ := req.Inputs["permanent"].(bool); permanent {
		return api.TaskResult{}, api.Permanent(err)
	}
	return api.TaskResult{}, api.Transient(err)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func duration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, errors.New("sleep: duration input is required")
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("sleep: %w", err)
		}
		return parsed, nil
	default:
		ms, ok := number(v)
		if !ok {
			return 0, fmt.Errorf("sleep: unsupported duration %T", v)
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
}
