package taskqueue

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeTask_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	orig := Task{
		ID:         "id-123",
		Type:       TaskTypeResumeRun,
		RunID:      "run-1",
		EnqueuedAt: now,
		NotBefore:  now.Add(5 * time.Minute),
		Attempts:   3,
	}

	data, err := EncodeTask(orig)
	if err != nil {
		t.Fatalf("EncodeTask error: %v", err)
	}
	got, err := DecodeTask(data)
	if err != nil {
		t.Fatalf("DecodeTask error: %v", err)
	}

	// Field-by-field: times lose their monotonic reading.
	if got.ID != orig.ID || got.Type != orig.Type || got.RunID != orig.RunID || got.Attempts != orig.Attempts {
		t.Fatalf("decoded task mismatch: got %+v want %+v", got, orig)
	}
	if !got.EnqueuedAt.Equal(orig.EnqueuedAt) || !got.NotBefore.Equal(orig.NotBefore) {
		t.Fatalf("decoded times mismatch: got %v/%v want %v/%v", got.EnqueuedAt, got.NotBefore, orig.EnqueuedAt, orig.NotBefore)
	}
}

func TestDecodeTask_InvalidData_ReturnsError(t *testing.T) {
	bad := []byte{0x00, 0x01, 0x02, 0x03, 0xFF}
	if task, err := DecodeTask(bad); err == nil {
		t.Fatalf("expected error, got task: %#v", task)
	}
}

func TestEncodeTask_RequiresRunID(t *testing.T) {
	if _, err := EncodeTask(Task{ID: "x", Type: TaskTypeExecuteRun}); !errors.Is(err, ErrNoRunID) {
		t.Fatalf("expected ErrNoRunID, got %v", err)
	}
}

func TestDecodeTask_RejectsUnknownVersion(t *testing.T) {
	data, err := EncodeTask(Task{Type: TaskTypeExecuteRun, RunID: "r"})
	if err != nil {
		t.Fatalf("EncodeTask error: %v", err)
	}
	if data[0] != payloadVersion {
		t.Fatalf("expected version prefix %d, got %d", payloadVersion, data[0])
	}
	data[0] = payloadVersion + 1
	if _, err := DecodeTask(data); err == nil {
		t.Fatalf("expected an error for a newer payload version")
	}
	if _, err := DecodeTask(nil); err == nil {
		t.Fatalf("expected an error for an empty payload")
	}
}
