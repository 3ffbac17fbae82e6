package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/database"
)

// staleError is the execution error recorded for tasks reclaimed by the
// stale sweep.
const staleError = "Task timed out - no progress updates for over 2 hours"

// Report summarizes one maintenance run.
type Report struct {
	UnclassifiedFound  int `json:"unclassified_found"`
	Processed          int `json:"processed"`
	Queued             int `json:"queued"`
	AwaitingApproval   int `json:"awaiting_approval"`
	ApprovedDispatched int `json:"approved_dispatched"`
	StaleFound         int `json:"stale_found"`
	StaleCleaned       int `json:"stale_cleaned"`
	Errors             int `json:"errors"`
}

// Sweeper is the periodic maintenance pass: it classifies backlog tasks,
// dispatches approvals that arrived between sweeps, and reclaims tasks whose
// workers went silent.
type Sweeper struct {
	store        database.Store
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	progress     *ProgressService
	metrics      *observability.Metrics
	log          *slog.Logger

	batchSize  int
	staleAfter time.Duration
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	store database.Store,
	orchestrator *Orchestrator,
	dispatcher *Dispatcher,
	progress *ProgressService,
	metrics *observability.Metrics,
	log *slog.Logger,
	batchSize int,
	staleAfter time.Duration,
) *Sweeper {
	return &Sweeper{
		store:        store,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		progress:     progress,
		metrics:      metrics,
		log:          log,
		batchSize:    batchSize,
		staleAfter:   staleAfter,
	}
}

// RunMaintenance executes all three sweep passes. Individual task errors are
// counted and logged, never fatal; the sweep always finishes its batch.
func (s *Sweeper) RunMaintenance(ctx context.Context) (*Report, error) {
	report := &Report{}

	if err := s.sweepUnclassified(ctx, report); err != nil {
		return report, fmt.Errorf("sweep unclassified: %w", err)
	}
	if err := s.sweepApproved(ctx, report); err != nil {
		return report, fmt.Errorf("sweep approved: %w", err)
	}
	if err := s.sweepStale(ctx, report); err != nil {
		return report, fmt.Errorf("sweep stale: %w", err)
	}

	s.log.Info("maintenance sweep finished",
		"unclassified", report.UnclassifiedFound,
		"processed", report.Processed,
		"queued", report.Queued,
		"awaiting_approval", report.AwaitingApproval,
		"approved_dispatched", report.ApprovedDispatched,
		"stale_cleaned", report.StaleCleaned,
		"errors", report.Errors,
	)
	return report, nil
}

// sweepUnclassified runs detection on agent-assigned tasks that were created
// outside the chat flow and never classified.
func (s *Sweeper) sweepUnclassified(ctx context.Context, report *Report) error {
	tasks, err := s.store.ListUnclassified(ctx, s.batchSize)
	if err != nil {
		return err
	}
	report.UnclassifiedFound = len(tasks)

	for i := range tasks {
		t := &tasks[i]
		outcome, err := s.orchestrator.DetectAndHandle(ctx, t.ID)
		if err != nil {
			s.log.Warn("sweep detection failed", "task_id", t.ID, "error", err)
			report.Errors++
			continue
		}
		report.Processed++
		switch outcome.ActionTaken {
		case ActionQueued:
			report.Queued++
		case ActionPendingApproval:
			report.AwaitingApproval++
		}
	}
	return nil
}

// sweepApproved dispatches long-running tasks whose approval landed after
// the gate check, so an approval is never lost between sweeps.
func (s *Sweeper) sweepApproved(ctx context.Context, report *Report) error {
	tasks, err := s.store.ListApprovedUndispatched(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for i := range tasks {
		t := &tasks[i]
		if _, _, err := s.dispatcher.Dispatch(ctx, t); err != nil {
			if IsConflict(err) {
				// Another actor claimed it first; nothing to do.
				continue
			}
			s.log.Warn("sweep dispatch failed", "task_id", t.ID, "error", err)
			report.Errors++
			continue
		}
		report.ApprovedDispatched++
	}
	return nil
}

// sweepStale force-fails in-progress tasks whose workers stopped reporting.
// The terminal write is conditional, so a worker finishing mid-sweep wins
// and the reclaim becomes a no-op.
func (s *Sweeper) sweepStale(ctx context.Context, report *Report) error {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	tasks, err := s.store.ListStaleInProgress(ctx, cutoff, s.batchSize)
	if err != nil {
		return err
	}
	report.StaleFound = len(tasks)

	for i := range tasks {
		t := &tasks[i]
		if _, _, err := s.progress.Fail(ctx, t, staleError, false); err != nil {
			s.log.Warn("stale cleanup failed", "task_id", t.ID, "error", err)
			report.Errors++
			continue
		}
		report.StaleCleaned++
		if s.metrics != nil {
			s.metrics.SweepReclaimed.Inc()
		}
	}
	return nil
}
