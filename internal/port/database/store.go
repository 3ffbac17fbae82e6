// Package database defines the durable store port (interface).
package database

import (
	"context"
	"time"

	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/domain/user"
)

// Store is the port interface for the durable task store. Status-changing
// methods are conditional updates: they apply only when the task is still in
// the expected state and return domain.ErrConflict otherwise, so a late
// sweeper pass and an in-flight worker cannot race to double-dispatch or
// double-complete the same task.
type Store interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	GetUser(ctx context.Context, id string) (*user.User, error)

	// ListUnclassified returns agent-assigned pending tasks whose duration
	// classification is still unknown, oldest first, up to limit.
	ListUnclassified(ctx context.Context, limit int) ([]task.Task, error)

	// ListApprovedUndispatched returns long-running tasks that were approved
	// but never dispatched (approval arrived between sweeps), up to limit.
	ListApprovedUndispatched(ctx context.Context, limit int) ([]task.Task, error)

	// ListStaleInProgress returns long-running in-progress tasks whose last
	// progress update is older than cutoff, up to limit.
	ListStaleInProgress(ctx context.Context, cutoff time.Time, limit int) ([]task.Task, error)

	// MarkShortRunning records a "not long-running" classification.
	MarkShortRunning(ctx context.Context, id string) error

	// SavePlan records the long-running classification together with the
	// generated plan, execution model, completion estimate, and the initial
	// approval gate state.
	SavePlan(ctx context.Context, id string, p *plan.Plan, model string, estimatedCompletion time.Time, approval task.ApprovalStatus) error

	// ApproveTask moves the gate pending -> approved; ErrConflict when the
	// gate is not pending.
	ApproveTask(ctx context.Context, id, userID string) error

	// RejectTask moves the gate pending -> rejected and the task to its
	// terminal state without execution; ErrConflict when not pending.
	RejectTask(ctx context.Context, id, userID string) error

	// ClaimForDispatch atomically moves a dispatch-eligible task to
	// in_progress and records the lane; ErrConflict when the task is no
	// longer pending or already linked to a job.
	ClaimForDispatch(ctx context.Context, id, queueName string) error

	// RecordJob stores the queue backend's job handle after a successful
	// enqueue, replacing any previous handle.
	RecordJob(ctx context.Context, id, jobID string) error

	// ReleaseDispatch reverts a claimed task to pending after an enqueue
	// failure so it stays dispatch-eligible for a later sweep.
	ReleaseDispatch(ctx context.Context, id string) error

	// UpdateProgress writes the current progress snapshot. The stored
	// percentage is monotonically non-decreasing while in progress.
	UpdateProgress(ctx context.Context, id string, pct int, currentStep string, at time.Time) error

	// CompleteTask moves an in-progress task to completed with its result;
	// ErrConflict when the task is already terminal.
	CompleteTask(ctx context.Context, id string, result *plan.Result) error

	// RecordFailure stores the execution error and increments retry_count,
	// returning the new count. The task's status is not changed.
	RecordFailure(ctx context.Context, id, execError string) (int, error)

	// MarkFailedTerminal forces the terminal failed state (completed with
	// execution_error set); ErrConflict when already terminal.
	MarkFailedTerminal(ctx context.Context, id string) error

	CreateComment(ctx context.Context, c *task.Comment) error
	ListComments(ctx context.Context, taskID string, limit int) ([]task.Comment, error)
}
