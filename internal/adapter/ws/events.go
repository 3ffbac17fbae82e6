package ws

// Event type constants for WebSocket messages.
const (
	EventTaskPlan      = "task.plan"
	EventTaskApproval  = "task.approval"
	EventTaskProgress  = "task.progress"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// PlanEvent is broadcast when a plan is generated for a long-running task.
type PlanEvent struct {
	TaskID           string `json:"task_id"`
	StepCount        int    `json:"step_count"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	RequiresApproval bool   `json:"requires_approval"`
}

// ApprovalEvent is broadcast when the approval gate changes state.
type ApprovalEvent struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // pending, approved, rejected
	UserID string `json:"user_id,omitempty"`
}

// ProgressEvent is broadcast on each step boundary during execution.
type ProgressEvent struct {
	TaskID      string `json:"task_id"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step"`
}

// CompletedEvent is broadcast when execution finishes successfully.
type CompletedEvent struct {
	TaskID         string `json:"task_id"`
	StepsCompleted int    `json:"steps_completed"`
	Summary        string `json:"summary,omitempty"`
}

// FailedEvent is broadcast on a task failure, retried or terminal.
type FailedEvent struct {
	TaskID     string `json:"task_id"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	Terminal   bool   `json:"terminal"`
}
