package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skalegrid/agentq/internal/adapter/ws"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/broadcast"
	"github.com/skalegrid/agentq/internal/port/database"
	"github.com/skalegrid/agentq/internal/port/notifier"
)

// ProgressService records execution progress and terminal transitions, and
// fans the corresponding events out to listeners and notifiers.
type ProgressService struct {
	store         database.Store
	hub           broadcast.Broadcaster
	notifications *NotificationService
	metrics       *observability.Metrics
	log           *slog.Logger
	baseURL       string
}

// NewProgressService creates a ProgressService. baseURL is prefixed to task
// deep links in completion notifications.
func NewProgressService(
	store database.Store,
	hub broadcast.Broadcaster,
	notifications *NotificationService,
	metrics *observability.Metrics,
	log *slog.Logger,
	baseURL string,
) *ProgressService {
	return &ProgressService{
		store:         store,
		hub:           hub,
		notifications: notifications,
		metrics:       metrics,
		log:           log,
		baseURL:       baseURL,
	}
}

// Report records a progress snapshot, appends the audit comment, and emits
// the progress event. Emission failures never propagate; progress reporting
// must not break execution.
func (s *ProgressService) Report(ctx context.Context, t *task.Task, pct int, currentStep string) {
	now := time.Now().UTC()

	if err := s.store.UpdateProgress(ctx, t.ID, pct, currentStep, now); err != nil {
		s.log.Warn("progress update failed", "task_id", t.ID, "pct", pct, "error", err)
		return
	}

	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentProgressUpdate,
		fmt.Sprintf("Progress: %d%% - %s", pct, currentStep),
		map[string]any{"progress_percentage": pct, "current_step": currentStep})
	comment.AgentID = t.AgentID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("progress comment failed", "task_id", t.ID, "error", err)
	}

	s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskProgress, ws.ProgressEvent{
		TaskID:      t.ID,
		Progress:    pct,
		CurrentStep: currentStep,
	})
}

// Complete moves the task to its successful terminal state. The store update
// is conditional; a task another actor already finished returns
// domain.ErrConflict and no duplicate events are emitted.
func (s *ProgressService) Complete(ctx context.Context, t *task.Task, result *plan.Result, agentName string) error {
	if err := s.store.CompleteTask(ctx, t.ID, result); err != nil {
		return err
	}

	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentStatusChange,
		"Task completed successfully",
		map[string]string{"old_status": string(task.StatusInProgress), "new_status": string(task.StatusCompleted)})
	comment.AgentID = t.AgentID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("completion comment failed", "task_id", t.ID, "error", err)
	}

	s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskCompleted, ws.CompletedEvent{
		TaskID:         t.ID,
		StepsCompleted: result.StepsCompleted,
		Summary:        result.Summary,
	})

	link := fmt.Sprintf("%s/tasks/%s", s.baseURL, t.ID)
	summary := result.Summary
	if summary == "" {
		summary = "Task completed successfully."
	}
	s.notifications.Notify(ctx, notifier.Notification{
		Title:   fmt.Sprintf("Task completed: %s", t.Title),
		Message: fmt.Sprintf("%s\n\n%s reports the task is done.", summary, agentName),
		Level:   "success",
		Source:  "task.completed",
		Link:    link,
	})

	if s.metrics != nil {
		s.metrics.TasksCompleted.WithLabelValues(t.QueueName).Inc()
	}
	s.log.Info("task completed", "task_id", t.ID, "steps", result.StepsCompleted)
	return nil
}

// Fail records a failure. When retryRequested is false or the retry ceiling
// is reached the task is forced terminal (completed with execution_error
// set). Returns the new retry count and whether the failure was terminal.
func (s *ProgressService) Fail(ctx context.Context, t *task.Task, execError string, retryRequested bool) (int, bool, error) {
	count, err := s.store.RecordFailure(ctx, t.ID, execError)
	if err != nil {
		return 0, false, err
	}

	terminal := !retryRequested || count >= task.RetryCeiling
	if terminal {
		if err := s.store.MarkFailedTerminal(ctx, t.ID); err != nil {
			// A conflict means another actor already closed the task; the
			// failure record above still stands.
			s.log.Warn("mark failed terminal", "task_id", t.ID, "error", err)
		}
	}

	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentError,
		fmt.Sprintf("Task execution failed: %s", execError),
		map[string]any{"error": execError, "retry_count": count})
	comment.AgentID = t.AgentID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("failure comment failed", "task_id", t.ID, "error", err)
	}

	s.hub.BroadcastEvent(ctx, t.TenantID, ws.EventTaskFailed, ws.FailedEvent{
		TaskID:     t.ID,
		Error:      execError,
		RetryCount: count,
		Terminal:   terminal,
	})

	if terminal {
		s.notifications.Notify(ctx, notifier.Notification{
			Title:   fmt.Sprintf("Task failed: %s", t.Title),
			Message: execError,
			Level:   "error",
			Source:  "task.failed",
			Link:    fmt.Sprintf("%s/tasks/%s", s.baseURL, t.ID),
		})
	}

	if s.metrics != nil {
		outcome := "retried"
		if terminal {
			outcome = "terminal"
		}
		s.metrics.TasksFailed.WithLabelValues(outcome).Inc()
	}
	s.log.Error("task failed", "task_id", t.ID, "retry_count", count, "terminal", terminal, "error", execError)
	return count, terminal, nil
}
