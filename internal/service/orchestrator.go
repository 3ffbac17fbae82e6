package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skalegrid/agentq/internal/adapter/ws"
	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/broadcast"
	"github.com/skalegrid/agentq/internal/port/database"
)

// Action is the decision DetectAndHandle reaches for a task.
type Action string

const (
	// ActionExecuteNow means the task is short-running (or detection failed)
	// and should be handled synchronously by the caller.
	ActionExecuteNow Action = "execute_now"
	// ActionPendingApproval means a plan was generated and the approval gate
	// is now blocking dispatch.
	ActionPendingApproval Action = "pending_approval"
	// ActionQueued means the task was dispatched to the execution queue.
	ActionQueued Action = "queued"
)

// Outcome reports what the orchestrator did with a task.
type Outcome struct {
	IsLongRunning bool       `json:"is_long_running"`
	ActionTaken   Action     `json:"action_taken"`
	Plan          *plan.Plan `json:"plan,omitempty"`
	JobID         string     `json:"job_id,omitempty"`
	Message       string     `json:"message"`
	Err           string     `json:"error,omitempty"`
}

// Orchestrator runs the detect -> plan -> gate -> dispatch pipeline and owns
// the approval operations.
type Orchestrator struct {
	store      database.Store
	classifier *Classifier
	planner    *Planner
	dispatcher *Dispatcher
	hub        broadcast.Broadcaster
	metrics    *observability.Metrics
	log        *slog.Logger

	executionModel string
}

// NewOrchestrator creates an Orchestrator with all dependencies.
func NewOrchestrator(
	store database.Store,
	classifier *Classifier,
	planner *Planner,
	dispatcher *Dispatcher,
	hub broadcast.Broadcaster,
	metrics *observability.Metrics,
	log *slog.Logger,
	executionModel string,
) *Orchestrator {
	return &Orchestrator{
		store:          store,
		classifier:     classifier,
		planner:        planner,
		dispatcher:     dispatcher,
		hub:            hub,
		metrics:        metrics,
		log:            log,
		executionModel: executionModel,
	}
}

// DetectAndHandle classifies the task and routes it: short-running tasks are
// returned to the caller for synchronous handling, long-running tasks get a
// plan and either wait at the approval gate or go straight to the queue.
// Detection or planning failures degrade to the execute_now path so the task
// is never silently dropped.
func (s *Orchestrator) DetectAndHandle(ctx context.Context, taskID string) (*Outcome, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return nil, fmt.Errorf("detect task %s: task is already terminal", taskID)
	}
	if t.AgentID == "" {
		return nil, fmt.Errorf("detect task %s: %w", taskID, task.ErrNoAgent)
	}

	a, err := s.store.GetAgent(ctx, t.AgentID)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, t.CreatorID)
	if err != nil {
		return nil, err
	}

	verdict, err := s.classifier.Classify(ctx, t, a)
	if err != nil {
		// Classification is best-effort: fall back to immediate execution
		// and leave the task unclassified for a later sweep.
		s.log.Warn("classification failed, falling back to immediate execution", "task_id", t.ID, "error", err)
		s.observeAction(ActionExecuteNow)
		return &Outcome{
			ActionTaken: ActionExecuteNow,
			Err:         err.Error(),
			Message:     "Error detecting task complexity, will execute normally",
		}, nil
	}

	if !verdict.IsLongRunning {
		if err := s.store.MarkShortRunning(ctx, t.ID); err != nil {
			s.log.Warn("mark short running failed", "task_id", t.ID, "error", err)
		}
		s.observeAction(ActionExecuteNow)
		return &Outcome{
			ActionTaken: ActionExecuteNow,
			Message:     fmt.Sprintf("Task will be completed quickly (estimated %ds)", verdict.EstimatedDurationSeconds),
		}, nil
	}

	p, err := s.planner.GeneratePlan(ctx, t, a, u)
	if err != nil {
		s.log.Warn("plan generation failed, falling back to immediate execution", "task_id", t.ID, "error", err)
		s.observeAction(ActionExecuteNow)
		return &Outcome{
			ActionTaken: ActionExecuteNow,
			Err:         err.Error(),
			Message:     "Error detecting task complexity, will execute normally",
		}, nil
	}

	approval := task.ApprovalNone
	if p.RequiresApproval {
		approval = task.ApprovalPending
	}
	estimatedCompletion := time.Now().UTC().Add(time.Duration(p.EstimatedDurationMinutes) * time.Minute)

	if err := s.store.SavePlan(ctx, t.ID, p, s.executionModel, estimatedCompletion, approval); err != nil {
		return nil, fmt.Errorf("save plan for task %s: %w", t.ID, err)
	}
	t.LongRunning = task.LongRunningYes
	t.Plan = p
	t.ExecutionModel = s.executionModel
	t.RequiresApproval = p.RequiresApproval
	t.ApprovalStatus = approval

	s.createPlanComment(ctx, t, p, a)
	s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskPlan, ws.PlanEvent{
		TaskID:           t.ID,
		StepCount:        len(p.Steps),
		EstimatedMinutes: p.EstimatedDurationMinutes,
		RequiresApproval: p.RequiresApproval,
	})

	if p.RequiresApproval {
		s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskApproval, ws.ApprovalEvent{
			TaskID: t.ID,
			Status: string(task.ApprovalPending),
		})
		s.observeAction(ActionPendingApproval)
		return &Outcome{
			IsLongRunning: true,
			ActionTaken:   ActionPendingApproval,
			Plan:          p,
			Message: fmt.Sprintf(
				"I've created a detailed plan for this task (estimated %d minutes). This task requires your approval because: %s. Please review the plan and approve to proceed.",
				p.EstimatedDurationMinutes, p.ApprovalReasoning),
		}, nil
	}

	jobID, _, err := s.dispatcher.Dispatch(ctx, t)
	if err != nil {
		return nil, err
	}

	s.observeAction(ActionQueued)
	return &Outcome{
		IsLongRunning: true,
		ActionTaken:   ActionQueued,
		Plan:          p,
		JobID:         jobID,
		Message: fmt.Sprintf(
			"Task queued for execution (estimated %d minutes). I'll notify you when it's complete.",
			p.EstimatedDurationMinutes),
	}, nil
}

// Approve moves the gate pending -> approved and dispatches the task. The
// store update is conditional, so a second concurrent approval gets
// domain.ErrConflict and no second job is created.
func (s *Orchestrator) Approve(ctx context.Context, taskID, userID string) (*Outcome, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !t.RequiresApproval {
		return nil, fmt.Errorf("approve task %s: %w", taskID, task.ErrApprovalNotRequired)
	}
	if t.AgentID == "" {
		// Reject before touching the gate: an agentless task can never be
		// dispatched, and flipping the gate first would leave it approved
		// with nothing to run.
		return nil, fmt.Errorf("approve task %s: %w", taskID, task.ErrNoAgent)
	}

	if err := s.store.ApproveTask(ctx, taskID, userID); err != nil {
		return nil, err
	}
	t.ApprovalStatus = task.ApprovalApproved
	t.ApprovedBy = userID

	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentApproval,
		"Task approved and queued for execution", nil)
	comment.UserID = userID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("approval comment failed", "task_id", t.ID, "error", err)
	}

	s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskApproval, ws.ApprovalEvent{
		TaskID: t.ID,
		Status: string(task.ApprovalApproved),
		UserID: userID,
	})

	jobID, _, err := s.dispatcher.Dispatch(ctx, t)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		IsLongRunning: true,
		ActionTaken:   ActionQueued,
		JobID:         jobID,
		Message:       "Task approved and queued for execution",
	}, nil
}

// Reject moves the gate pending -> rejected; the task reaches its terminal
// state without ever executing.
func (s *Orchestrator) Reject(ctx context.Context, taskID, userID, reason string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !t.RequiresApproval {
		return fmt.Errorf("reject task %s: %w", taskID, task.ErrApprovalNotRequired)
	}

	if err := s.store.RejectTask(ctx, taskID, userID); err != nil {
		return err
	}

	body := "Task rejected"
	if reason != "" {
		body += ": " + reason
	}
	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentApproval, body, nil)
	comment.UserID = userID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("rejection comment failed", "task_id", t.ID, "error", err)
	}

	s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskApproval, ws.ApprovalEvent{
		TaskID: t.ID,
		Status: string(task.ApprovalRejected),
		UserID: userID,
	})

	s.log.Info("task rejected", "task_id", t.ID, "user_id", userID)
	return nil
}

// createPlanComment writes the human-readable plan summary to the audit
// trail, with the full plan as metadata.
func (s *Orchestrator) createPlanComment(ctx context.Context, t *task.Task, p *plan.Plan, a *agent.Agent) {
	var steps strings.Builder
	for i, step := range p.Steps {
		fmt.Fprintf(&steps, "%d. %s (%ds)\n", i+1, step.Title, step.EstimatedDurationSeconds)
	}

	approval := "No"
	reason := ""
	if p.RequiresApproval {
		approval = "Yes"
		reason = fmt.Sprintf("**Reason:** %s\n", p.ApprovalReasoning)
	}
	risks := "None identified"
	if len(p.Risks) > 0 {
		risks = strings.Join(p.Risks, ", ")
	}

	body := fmt.Sprintf(`Execution Plan Created

**Estimated Duration:** %d minutes

**Steps:**
%s
**Approval Required:** %s
%s
**Risks:** %s`,
		p.EstimatedDurationMinutes, steps.String(), approval, reason, risks)

	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentNote, body, p)
	comment.AgentID = a.ID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("plan comment failed", "task_id", t.ID, "error", err)
	}
}

func (s *Orchestrator) observeAction(a Action) {
	if s.metrics != nil {
		s.metrics.TasksDetected.WithLabelValues(string(a)).Inc()
	}
}
