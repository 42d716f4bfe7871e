package api

import "time"

// RunTotals is the aggregate cost and progress of one run.
type RunTotals struct {
	// TotalCost is the sum of ActualCost over Succeeded tasks.
	TotalCost float64
	// EstimatedCost is the sum of the definition's estimates.
	EstimatedCost float64
	// Duration is the summed wall time of every task attempt.
	Duration time.Duration

	Tasks    int
	Terminal int
	ByStatus map[TaskStatus]int
}

// Progress is the fraction of tasks in a terminal state.
func (t RunTotals) Progress() float64 {
	if t.Tasks == 0 {
		return 1
	}
	return float64(t.Terminal) / float64(t.Tasks)
}

// Summarize accumulates per-task cost and duration into run totals. def may
// be nil, in which case EstimatedCost is zero.
func Summarize(run *WorkflowRun, def *WorkflowDefinition) RunTotals {
	totals := RunTotals{ByStatus: make(map[TaskStatus]int)}
	if def != nil {
		totals.EstimatedCost = def.EstimatedCost()
	}
	for _, t := range run.Tasks {
		totals.Tasks++
		totals.ByStatus[t.Status]++
		totals.Duration += t.Duration
		if t.Status.Terminal() {
			totals.Terminal++
		}
		if t.Status == TaskSucceeded {
			totals.TotalCost += t.ActualCost
		}
	}
	return totals
}

// TaskStatusReport is the per-task part of a status report.
type TaskStatusReport struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	ActualCost float64    `json:"actual_cost"`
	Error      *TaskError `json:"error,omitempty"`
	ApprovalID string     `json:"approval_id,omitempty"`
}

// RunStatusReport is what getStatus returns.
type RunStatusReport struct {
	RunID         string             `json:"run_id"`
	DefinitionID  string             `json:"definition_id"`
	Status        RunStatus          `json:"status"`
	Tasks         []TaskStatusReport `json:"tasks"`
	Progress      float64            `json:"progress"`
	TotalCost     float64            `json:"total_cost"`
	EstimatedCost float64            `json:"estimated_cost"`
	Error         *TaskError         `json:"error,omitempty"`
}

// NewStatusReport builds a report from a run snapshot.
func NewStatusReport(run *WorkflowRun, def *WorkflowDefinition) *RunStatusReport {
	totals := Summarize(run, def)
	rep := &RunStatusReport{
		RunID:         run.ID,
		DefinitionID:  run.DefinitionID,
		Status:        run.Status,
		Tasks:         make([]TaskStatusReport, 0, len(run.Tasks)),
		Progress:      totals.Progress(),
		TotalCost:     totals.TotalCost,
		EstimatedCost: totals.EstimatedCost,
		Error:         run.Error,
	}
	for _, t := range run.Tasks {
		rep.Tasks = append(rep.Tasks, TaskStatusReport{
			TaskID:     t.TaskID,
			Status:     t.Status,
			Attempts:   t.Attempts,
			ActualCost: t.ActualCost,
			Error:      t.Error,
			ApprovalID: t.ApprovalID,
		})
	}
	return rep
}
