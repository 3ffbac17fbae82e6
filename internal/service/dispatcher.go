package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skalegrid/agentq/internal/domain"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/database"
	"github.com/skalegrid/agentq/internal/port/messagequeue"
)

// Dispatcher places dispatch-eligible tasks onto the priority queue. The
// store claim happens before the enqueue so a concurrent sweep cannot create
// a second job for the same task.
type Dispatcher struct {
	store   database.Store
	queue   messagequeue.Queue
	metrics *observability.Metrics
	log     *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store database.Store, queue messagequeue.Queue, metrics *observability.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		queue:   queue,
		metrics: metrics,
		log:     log,
	}
}

// LaneForPriority maps task priority onto the three queue lanes: urgent work
// jumps the line, low and medium wait behind everything else.
func LaneForPriority(p task.Priority) messagequeue.Lane {
	switch p {
	case task.PriorityUrgent:
		return messagequeue.LaneHigh
	case task.PriorityLow, task.PriorityMedium:
		return messagequeue.LaneLow
	default:
		return messagequeue.LaneDefault
	}
}

// Dispatch claims the task, enqueues its execution job, and records the job
// handle. An enqueue failure releases the claim so the task stays pending and
// dispatch-eligible; it is never silently marked in progress.
func (s *Dispatcher) Dispatch(ctx context.Context, t *task.Task) (string, messagequeue.Lane, error) {
	if err := t.Dispatchable(); err != nil {
		return "", "", fmt.Errorf("dispatch task %s: %w", t.ID, err)
	}

	lane := LaneForPriority(t.Priority)

	if err := s.store.ClaimForDispatch(ctx, t.ID, string(lane)); err != nil {
		return "", "", fmt.Errorf("dispatch task %s: %w", t.ID, err)
	}

	job := messagequeue.Job{
		TaskID:     t.ID,
		AgentID:    t.AgentID,
		UserID:     t.CreatorID,
		TimeoutSec: int(t.Plan.JobTimeout().Seconds()),
	}

	jobID, err := s.queue.Enqueue(ctx, lane, job)
	if err != nil {
		if relErr := s.store.ReleaseDispatch(ctx, t.ID); relErr != nil {
			s.log.Error("release dispatch claim failed", "task_id", t.ID, "error", relErr)
		}
		return "", "", fmt.Errorf("dispatch task %s: enqueue: %w", t.ID, err)
	}

	if err := s.store.RecordJob(ctx, t.ID, jobID); err != nil {
		// The job is already on the queue; the worker path tolerates a
		// missing handle, so log and carry on.
		s.log.Error("record job handle failed", "task_id", t.ID, "job_id", jobID, "error", err)
	}

	comment := task.NewSystemComment(t.ID, t.TenantID, task.CommentStatusChange,
		fmt.Sprintf("Task queued for execution in %s priority queue", lane),
		map[string]string{"job_id": jobID, "queue": string(lane)})
	comment.AgentID = t.AgentID
	if err := s.store.CreateComment(ctx, &comment); err != nil {
		s.log.Warn("queue comment failed", "task_id", t.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.TasksDispatched.WithLabelValues(string(lane)).Inc()
	}
	s.log.Info("task dispatched", "task_id", t.ID, "job_id", jobID, "lane", lane)

	t.Status = task.StatusInProgress
	t.QueueName = string(lane)
	t.JobID = jobID

	return jobID, lane, nil
}

// IsConflict reports whether err is the store's conditional-update conflict,
// meaning another actor already moved the task.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
