// Package task defines the Task domain entity and its orchestration state.
package task

import (
	"errors"
	"time"

	"github.com/skalegrid/agentq/internal/domain/plan"
)

// Status represents the execution state of a task. A failed task is terminal
// as StatusCompleted with ExecutionError set; there is no separate failed value.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// LongRunning is the tri-state duration classification. Unknown means the
// task has not been classified yet; it is stored as a nullable boolean.
type LongRunning int

const (
	LongRunningUnknown LongRunning = iota
	LongRunningNo
	LongRunningYes
)

// ApprovalStatus represents the human-approval gate state.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Priority values accepted on a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Gate/dispatch precondition errors.
var (
	ErrApprovalNotRequired = errors.New("task does not require approval")
	ErrApprovalNotPending  = errors.New("task approval is not pending")
	ErrApprovalPending     = errors.New("task is awaiting approval")
	ErrAlreadyDispatched   = errors.New("task already has an active job")
	ErrNoAgent             = errors.New("task has no assigned agent")
	ErrNoPlan              = errors.New("task has no execution plan")
	ErrNotLongRunning      = errors.New("task is not long-running")
)

// RetryCeiling is the maximum number of task-level failures before the task
// is forced terminal regardless of a retry request.
const RetryCeiling = 3

// Task is the central work item tracked through classification, planning,
// approval, queueing, and execution.
type Task struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	AgentID   string `json:"agent_id,omitempty"`
	CreatorID string `json:"creator_id"`

	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	ProjectName string     `json:"project_name,omitempty"`

	Status      Status      `json:"status"`
	LongRunning LongRunning `json:"is_long_running"`

	Plan                *plan.Plan `json:"execution_plan,omitempty"`
	ExecutionModel      string     `json:"execution_model,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`

	RequiresApproval bool           `json:"requires_approval"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`

	ProgressPct    int        `json:"progress_percentage"`
	CurrentStep    string     `json:"current_step,omitempty"`
	LastProgressAt *time.Time `json:"last_progress_update,omitempty"`
	RetryCount     int        `json:"retry_count"`

	QueueName string `json:"queue_name,omitempty"`
	JobID     string `json:"job_id,omitempty"`

	Result         *plan.Result `json:"execution_result,omitempty"`
	ExecutionError string       `json:"execution_error,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the task has reached its terminal state.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted
}

// Failed reports whether the task terminated with an execution error.
func (t *Task) Failed() bool {
	return t.Status == StatusCompleted && t.ExecutionError != ""
}

// AwaitingApproval reports whether the approval gate is blocking dispatch.
func (t *Task) AwaitingApproval() bool {
	return t.RequiresApproval && t.ApprovalStatus == ApprovalPending
}

// Dispatchable reports whether the task may be handed to the queue dispatcher.
// The gate must not be pending and at most one job may exist per task.
func (t *Task) Dispatchable() error {
	switch {
	case t.AgentID == "":
		return ErrNoAgent
	case t.LongRunning != LongRunningYes:
		return ErrNotLongRunning
	case t.Plan == nil:
		return ErrNoPlan
	case t.AwaitingApproval():
		return ErrApprovalPending
	case t.ApprovalStatus == ApprovalRejected:
		return ErrApprovalNotPending
	case t.Status != StatusPending || t.JobID != "":
		return ErrAlreadyDispatched
	}
	return nil
}

// LongRunningFromBoolPtr maps the nullable storage column onto the tri-state
// enum: NULL is unknown.
func LongRunningFromBoolPtr(v *bool) LongRunning {
	switch {
	case v == nil:
		return LongRunningUnknown
	case *v:
		return LongRunningYes
	default:
		return LongRunningNo
	}
}

// BoolPtr maps the tri-state enum back to the nullable storage column.
func (lr LongRunning) BoolPtr() *bool {
	switch lr {
	case LongRunningYes:
		b := true
		return &b
	case LongRunningNo:
		b := false
		return &b
	default:
		return nil
	}
}

func (lr LongRunning) String() string {
	switch lr {
	case LongRunningYes:
		return "yes"
	case LongRunningNo:
		return "no"
	default:
		return "unknown"
	}
}
