package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/service"
)

func newTestSweeper(env *testEnv) *service.Sweeper {
	return service.NewSweeper(env.store, env.orchestrator, env.dispatcher, env.progress,
		testMetrics(), discardLogger(), 50, 2*time.Hour)
}

func TestRunMaintenance_AllPasses(t *testing.T) {
	env := newTestEnv()
	sweeper := newTestSweeper(env)

	// An unclassified backlog task the classifier will call short-running.
	env.store.addTask(pendingTask("task-backlog"))
	env.completer.script = []completion{{Response: shortVerdict}}

	// An approved task whose dispatch was missed.
	approved := dispatchReadyTask("task-approved")
	approved.RequiresApproval = true
	approved.ApprovalStatus = task.ApprovalApproved
	env.store.addTask(approved)

	// An in-progress task whose worker went silent hours ago.
	silent := inProgressTask("task-stale")
	stale := time.Now().UTC().Add(-3 * time.Hour)
	silent.LastProgressAt = &stale
	env.store.addTask(silent)

	report, err := sweeper.RunMaintenance(context.Background())
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}

	if report.UnclassifiedFound != 1 || report.Processed != 1 {
		t.Errorf("unclassified = %d processed = %d", report.UnclassifiedFound, report.Processed)
	}
	if report.ApprovedDispatched != 1 {
		t.Errorf("approved dispatched = %d, want 1", report.ApprovedDispatched)
	}
	if report.StaleFound != 1 || report.StaleCleaned != 1 {
		t.Errorf("stale found = %d cleaned = %d", report.StaleFound, report.StaleCleaned)
	}
	if report.Errors != 0 {
		t.Errorf("errors = %d, want 0", report.Errors)
	}

	// The missed approval is now on the queue.
	jobs := env.queue.enqueued()
	if len(jobs) != 1 || jobs[0].Job.TaskID != "task-approved" {
		t.Fatalf("jobs = %+v", jobs)
	}

	// The stale task was force-failed with the timeout message.
	reclaimed, _ := env.store.GetTask(context.Background(), "task-stale")
	if !reclaimed.Failed() {
		t.Errorf("stale task = status %s error %q", reclaimed.Status, reclaimed.ExecutionError)
	}
	if reclaimed.ExecutionError != "Task timed out - no progress updates for over 2 hours" {
		t.Errorf("stale error = %q", reclaimed.ExecutionError)
	}
}

func TestRunMaintenance_FreshTasksUntouched(t *testing.T) {
	env := newTestEnv()
	sweeper := newTestSweeper(env)

	// Recently active in-progress work is not stale.
	active := inProgressTask("task-active")
	recent := time.Now().UTC().Add(-10 * time.Minute)
	active.LastProgressAt = &recent
	env.store.addTask(active)

	// A gated task is not approved-undispatched.
	gated := dispatchReadyTask("task-gated")
	gated.RequiresApproval = true
	gated.ApprovalStatus = task.ApprovalPending
	env.store.addTask(gated)

	report, err := sweeper.RunMaintenance(context.Background())
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if report.StaleFound != 0 || report.ApprovedDispatched != 0 {
		t.Errorf("report = %+v", report)
	}

	stored, _ := env.store.GetTask(context.Background(), "task-active")
	if stored.Status != task.StatusInProgress {
		t.Errorf("active task disturbed: %s", stored.Status)
	}
	if len(env.queue.enqueued()) != 0 {
		t.Error("nothing should have been dispatched")
	}
}

func TestRunMaintenance_DetectionErrorCountedNotFatal(t *testing.T) {
	env := newTestEnv()
	sweeper := newTestSweeper(env)

	// Two unclassified tasks; the classifier transport works for both but
	// one task has an agent the store does not know, so detection errors.
	broken := pendingTask("task-broken")
	broken.AgentID = "agent-missing"
	env.store.addTask(broken)
	env.store.addTask(pendingTask("task-ok"))
	env.completer.script = []completion{{Response: shortVerdict}, {Response: shortVerdict}}

	report, err := sweeper.RunMaintenance(context.Background())
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if report.UnclassifiedFound != 2 {
		t.Errorf("unclassified = %d, want 2", report.UnclassifiedFound)
	}
	if report.Errors != 1 || report.Processed != 1 {
		t.Errorf("errors = %d processed = %d, want 1 and 1", report.Errors, report.Processed)
	}
}

func TestRunMaintenance_StaleSweepIsIdempotent(t *testing.T) {
	env := newTestEnv()
	sweeper := newTestSweeper(env)

	silent := inProgressTask("task-stale")
	stale := time.Now().UTC().Add(-3 * time.Hour)
	silent.LastProgressAt = &stale
	env.store.addTask(silent)

	first, err := sweeper.RunMaintenance(context.Background())
	if err != nil {
		t.Fatalf("first RunMaintenance: %v", err)
	}
	if first.StaleFound != 1 || first.StaleCleaned != 1 {
		t.Fatalf("first sweep stale found = %d cleaned = %d", first.StaleFound, first.StaleCleaned)
	}

	// The reclaimed task is terminal now, so a second sweep sees no stale
	// work and changes nothing.
	second, err := sweeper.RunMaintenance(context.Background())
	if err != nil {
		t.Fatalf("second RunMaintenance: %v", err)
	}
	if second.StaleFound != 0 || second.StaleCleaned != 0 {
		t.Errorf("second sweep stale found = %d cleaned = %d, want 0 and 0", second.StaleFound, second.StaleCleaned)
	}

	reclaimed, _ := env.store.GetTask(context.Background(), "task-stale")
	if !reclaimed.Failed() {
		t.Fatalf("stale task = status %s error %q", reclaimed.Status, reclaimed.ExecutionError)
	}
	if reclaimed.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", reclaimed.RetryCount)
	}
	if comments := env.store.commentsOfType("task-stale", task.CommentError); len(comments) != 1 {
		t.Errorf("error comments = %d, want exactly 1", len(comments))
	}
}

func TestRunMaintenance_AlreadyClaimedTaskNotRedispatched(t *testing.T) {
	env := newTestEnv()
	sweeper := newTestSweeper(env)

	// A task another actor already claimed is in progress and must not be
	// picked up by the approved-undispatched pass again.
	approved := dispatchReadyTask("task-raced")
	env.store.addTask(approved)
	if err := env.store.ClaimForDispatch(context.Background(), "task-raced", "high"); err != nil {
		t.Fatalf("out-of-band claim: %v", err)
	}

	report, err := sweeper.RunMaintenance(context.Background())
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if report.Errors != 0 || report.ApprovedDispatched != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(env.queue.enqueued()) != 0 {
		t.Error("claimed task must not produce a second job")
	}
}
