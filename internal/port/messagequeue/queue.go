// Package messagequeue defines the priority job queue port (interface).
package messagequeue

import (
	"context"
	"time"
)

// Lane is one of the three priority queues an execution job is placed into.
type Lane string

const (
	LaneHigh    Lane = "high"
	LaneDefault Lane = "default"
	LaneLow     Lane = "low"
)

// Lanes lists all lanes in drain-priority order.
var Lanes = []Lane{LaneHigh, LaneDefault, LaneLow}

// Subject constants for the execution subjects, one per lane.
const (
	SubjectExecuteHigh    = "tasks.execute.high"
	SubjectExecuteDefault = "tasks.execute.default"
	SubjectExecuteLow     = "tasks.execute.low"
)

// Subject returns the queue subject for a lane.
func (l Lane) Subject() string {
	switch l {
	case LaneHigh:
		return SubjectExecuteHigh
	case LaneLow:
		return SubjectExecuteLow
	default:
		return SubjectExecuteDefault
	}
}

// Valid reports whether l is one of the three known lanes.
func (l Lane) Valid() bool {
	return l == LaneHigh || l == LaneDefault || l == LaneLow
}

// Job is the payload handed to exactly one worker claim.
type Job struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id"`
	UserID     string    `json:"user_id"`
	TimeoutSec int       `json:"timeout_sec"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Timeout returns the job's execution budget.
func (j Job) Timeout() time.Duration {
	if j.TimeoutSec <= 0 {
		return 35 * time.Minute
	}
	return time.Duration(j.TimeoutSec) * time.Second
}

// Handler processes a job claimed from a lane. A non-nil error causes the
// backend to redeliver per its at-least-once discipline.
type Handler func(ctx context.Context, job Job) error

// Queue is the port interface for the priority job backend.
type Queue interface {
	// Enqueue places a job on the given lane and returns its handle.
	Enqueue(ctx context.Context, lane Lane, job Job) (jobID string, err error)

	// Consume registers a handler for jobs on the given lane. Jobs are
	// claimed atomically by exactly one worker (pop-once semantics). The
	// returned function cancels the subscription.
	Consume(ctx context.Context, lane Lane, handler Handler) (cancel func(), err error)

	// Drain processes pending deliveries and stops accepting new ones.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the backend is currently reachable.
	IsConnected() bool
}
