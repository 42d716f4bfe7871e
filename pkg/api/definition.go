package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultVersion is assigned to definitions registered without a version.
const DefaultVersion = "v1"

// TaskSpec describes a single node of a workflow graph.
type TaskSpec struct {
	// ID is unique within the definition.
	ID string `json:"id" yaml:"id"`

	// Capability names the executor capability that runs this task.
	Capability  string `json:"capability" yaml:"capability"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Inputs is an input template. String leaves may contain {{ path }}
	// references to variables.X or tasks.<id>.outputs.Y.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Condition is an optional expression; when it evaluates false the task
	// is Skipped.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Timeout bounds a single attempt. Zero means no timeout.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// Backoff overrides the engine's default retry backoff for this task.
	Backoff *BackoffPolicy `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	RequiresApproval bool            `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	Approval         *ApprovalPolicy `json:"approval,omitempty" yaml:"approval,omitempty"`

	EstimatedCost float64 `json:"estimated_cost,omitempty" yaml:"estimated_cost,omitempty"`
}

// ApprovalPolicy carries the human-facing details of an approval gate.
type ApprovalPolicy struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Permission  string   `json:"permission,omitempty" yaml:"permission,omitempty"`
	Timeout     Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WorkflowDefinition is the immutable task graph template.
type WorkflowDefinition struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string     `json:"version,omitempty" yaml:"version,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []TaskSpec `json:"tasks" yaml:"tasks"`

	// Variables are the initial variable bindings of every run. Run-level
	// variables passed at start time override them key by key.
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`

	// MaxInFlight overrides the engine's per-run concurrency bound.
	MaxInFlight int `json:"max_in_flight,omitempty" yaml:"max_in_flight,omitempty"`
}

// Task returns the spec with the given id.
func (d *WorkflowDefinition) Task(id string) (TaskSpec, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskSpec{}, false
}

// EstimatedCost sums the estimated cost of every task.
func (d *WorkflowDefinition) EstimatedCost() float64 {
	var total float64
	for _, t := range d.Tasks {
		total += t.EstimatedCost
	}
	return total
}

// DefinitionFingerprint returns a stable hash of the definition body. Two
// registrations of the same id and version must share a fingerprint.
func DefinitionFingerprint(def WorkflowDefinition) string {
	if def.Version == "" {
		def.Version = DefaultVersion
	}
	// encoding/json sorts map keys, which keeps the hash stable.
	data, err := json.Marshal(def)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("30s", "5m") in JSON and YAML. Plain integers are taken as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case string:
		if v == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return &DefinitionError{Kind: KindInvalidDefinition, Msg: "invalid duration value"}
	}
	return nil
}
