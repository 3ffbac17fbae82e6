// Package plan defines the typed execution plan, classification, and result
// structures. JSON blobs from the AI capability are decoded into these types
// at the edge; internal logic never operates on dynamically keyed maps.
package plan

import "time"

// Step is a single unit of an execution plan.
type Step struct {
	StepNumber               int    `json:"step_number"`
	Title                    string `json:"title"`
	Description              string `json:"description,omitempty"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	Required                 bool   `json:"required"`
}

// Plan is the ordered step plan produced once per long-running task.
type Plan struct {
	Steps                    []Step   `json:"steps"`
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes"`
	RequiresApproval         bool     `json:"requires_approval"`
	ApprovalReasoning        string   `json:"approval_reasoning,omitempty"`
	SuccessCriteria          []string `json:"success_criteria,omitempty"`
	Risks                    []string `json:"risks,omitempty"`
}

// JobTimeout is the queue timeout budget for executing this plan: the
// estimated duration plus a five minute safety buffer.
func (p *Plan) JobTimeout() time.Duration {
	minutes := p.EstimatedDurationMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes)*time.Minute + 5*time.Minute
}

// Classification is the duration-classifier verdict for a task.
type Classification struct {
	IsLongRunning            bool `json:"is_long_running"`
	EstimatedDurationSeconds int  `json:"estimated_duration_seconds"`
}

// StepOutcome records the result of executing one plan step.
type StepOutcome struct {
	StepNumber int    `json:"step_number"`
	Title      string `json:"title"`
	Success    bool   `json:"success"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the structured outcome of a completed execution run.
type Result struct {
	Success        bool          `json:"success"`
	StepsCompleted int           `json:"steps_completed"`
	Steps          []StepOutcome `json:"steps"`
	Summary        string        `json:"summary"`
	CompletedAt    time.Time     `json:"completed_at"`
}
