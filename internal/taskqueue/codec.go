package taskqueue

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

// payloadVersion prefixes every encoded task so stored payloads can be told
// apart if the Task layout changes.
const payloadVersion byte = 1

// ErrNoRunID is returned when encoding a task that names no run.
var ErrNoRunID = errors.New("taskqueue: task has no run id")

// EncodeTask serializes a task for the durable queues. The payload is a
// version byte followed by the gob encoding.
func EncodeTask(t Task) ([]byte, error) {
	if t.RunID == "" {
		return nil, ErrNoRunID
	}
	var buf bytes.Buffer
	buf.WriteByte(payloadVersion)
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, fmt.Errorf("taskqueue: encode task for run %s: %w", t.RunID, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask reverses EncodeTask.
func DecodeTask(data []byte) (*Task, error) {
	if len(data) == 0 || data[0] != payloadVersion {
		return nil, fmt.Errorf("taskqueue: unsupported payload version")
	}
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(data[1:])).Decode(&t); err != nil {
		return nil, fmt.Errorf("taskqueue: decode task: %w", err)
	}
	return &t, nil
}
