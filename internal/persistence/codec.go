package persistence

import (
	"encoding/json"

	"github.com/petrijr/taskgraph/pkg/api"
)

// Runs, definitions and approvals are stored as JSON documents next to a few
// indexed columns. JSON keeps executor outputs (map[string]any of arbitrary
// shape) readable by every backend without type registration.

func encodeRun(run *api.WorkflowRun) ([]byte, error) {
	return json.Marshal(run)
}

func decodeRun(data []byte) (*api.WorkflowRun, error) {
	var run api.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func encodeDefinition(def api.WorkflowDefinition) ([]byte, error) {
	return json.Marshal(def)
}

func decodeDefinition(data []byte) (api.WorkflowDefinition, error) {
	var def api.WorkflowDefinition
	err := json.Unmarshal(data, &def)
	return def, err
}

func encodeApproval(req *api.ApprovalRequest) ([]byte, error) {
	return json.Marshal(req)
}

func decodeApproval(data []byte) (*api.ApprovalRequest, error) {
	var req api.ApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// applyDecision mutates req with res. Callers check Resolved first.
func applyDecision(req *api.ApprovalRequest, res api.ApprovalResolution) {
	at := res.At
	req.Decision = res.Decision
	req.DecidedBy = res.Actor
	req.DecidedAt = &at
	req.Comment = res.Comment
}

func versionOf(def api.WorkflowDefinition) string {
	if def.Version == "" {
		return api.DefaultVersion
	}
	return def.Version
}
