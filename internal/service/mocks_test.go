package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skalegrid/agentq/internal/domain"
	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/domain/user"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/ai"
	"github.com/skalegrid/agentq/internal/port/messagequeue"
	"github.com/skalegrid/agentq/internal/port/notifier"
)

var (
	errMockNotFound = fmt.Errorf("mock: %w", domain.ErrNotFound)
	errMockConflict = fmt.Errorf("mock: %w", domain.ErrConflict)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry(), "test")
}

// --- Store mock ---

type progressWrite struct {
	Pct  int
	Step string
}

// mockStore is an in-memory Store with the same conditional-update semantics
// as the Postgres adapter: guarded updates return domain.ErrConflict when the
// task is not in the expected state.
type mockStore struct {
	mu       sync.Mutex
	tasks    map[string]*task.Task
	agents   map[string]*agent.Agent
	users    map[string]*user.User
	comments []task.Comment
	progress map[string][]progressWrite
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks:    map[string]*task.Task{},
		agents:   map[string]*agent.Agent{},
		users:    map[string]*user.User{},
		progress: map[string][]progressWrite{},
	}
}

func (m *mockStore) addTask(t task.Task) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = &t
	return &t
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errMockNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, errMockNotFound
	}
	return a, nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errMockNotFound
	}
	return u, nil
}

func (m *mockStore) ListUnclassified(_ context.Context, limit int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.Status == task.StatusPending && t.LongRunning == task.LongRunningUnknown && t.AgentID != "" {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) ListApprovedUndispatched(_ context.Context, limit int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		gateOK := !t.RequiresApproval || t.ApprovalStatus == task.ApprovalApproved
		if t.Status == task.StatusPending && t.LongRunning == task.LongRunningYes && t.JobID == "" && gateOK {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) ListStaleInProgress(_ context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		last := t.UpdatedAt
		if t.LastProgressAt != nil {
			last = *t.LastProgressAt
		}
		if t.Status == task.StatusInProgress && t.LongRunning == task.LongRunningYes && last.Before(cutoff) {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) MarkShortRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if t.LongRunning != task.LongRunningUnknown {
		return errMockConflict
	}
	t.LongRunning = task.LongRunningNo
	return nil
}

func (m *mockStore) SavePlan(_ context.Context, id string, p *plan.Plan, model string, estimatedCompletion time.Time, approval task.ApprovalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if t.Status != task.StatusPending {
		return errMockConflict
	}
	t.LongRunning = task.LongRunningYes
	t.Plan = p
	t.ExecutionModel = model
	t.EstimatedCompletion = &estimatedCompletion
	t.RequiresApproval = p.RequiresApproval
	t.ApprovalStatus = approval
	return nil
}

func (m *mockStore) ApproveTask(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if !t.RequiresApproval || t.ApprovalStatus != task.ApprovalPending {
		return errMockConflict
	}
	now := time.Now().UTC()
	t.ApprovalStatus = task.ApprovalApproved
	t.ApprovedBy = userID
	t.ApprovedAt = &now
	return nil
}

func (m *mockStore) RejectTask(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if !t.RequiresApproval || t.ApprovalStatus != task.ApprovalPending {
		return errMockConflict
	}
	now := time.Now().UTC()
	t.ApprovalStatus = task.ApprovalRejected
	t.ApprovedBy = userID
	t.ApprovedAt = &now
	t.Status = task.StatusCompleted
	t.CompletedAt = &now
	return nil
}

func (m *mockStore) ClaimForDispatch(_ context.Context, id, queueName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	gateOK := !t.RequiresApproval || t.ApprovalStatus == task.ApprovalApproved
	if t.Status != task.StatusPending || t.JobID != "" || t.LongRunning != task.LongRunningYes || !gateOK {
		return errMockConflict
	}
	t.Status = task.StatusInProgress
	t.QueueName = queueName
	return nil
}

func (m *mockStore) RecordJob(_ context.Context, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	t.JobID = jobID
	return nil
}

func (m *mockStore) ReleaseDispatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if t.Status != task.StatusInProgress {
		return errMockConflict
	}
	t.Status = task.StatusPending
	t.QueueName = ""
	t.JobID = ""
	return nil
}

func (m *mockStore) UpdateProgress(_ context.Context, id string, pct int, currentStep string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if t.Status != task.StatusInProgress {
		return errMockConflict
	}
	if pct > t.ProgressPct {
		t.ProgressPct = pct
	}
	t.CurrentStep = currentStep
	t.LastProgressAt = &at
	m.progress[id] = append(m.progress[id], progressWrite{Pct: pct, Step: currentStep})
	return nil
}

func (m *mockStore) CompleteTask(_ context.Context, id string, result *plan.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if t.Status != task.StatusInProgress {
		return errMockConflict
	}
	now := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.Result = result
	t.ExecutionError = ""
	t.ProgressPct = 100
	t.CompletedAt = &now
	return nil
}

func (m *mockStore) RecordFailure(_ context.Context, id, execError string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return 0, errMockNotFound
	}
	t.RetryCount++
	t.ExecutionError = execError
	return t.RetryCount, nil
}

func (m *mockStore) MarkFailedTerminal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errMockNotFound
	}
	if t.Status == task.StatusCompleted {
		return errMockConflict
	}
	now := time.Now().UTC()
	t.Status = task.StatusCompleted
	t.CompletedAt = &now
	return nil
}

func (m *mockStore) CreateComment(_ context.Context, c *task.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = fmt.Sprintf("comment-%d", len(m.comments)+1)
	c.CreatedAt = time.Now().UTC()
	m.comments = append(m.comments, *c)
	return nil
}

func (m *mockStore) ListComments(_ context.Context, taskID string, limit int) ([]task.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Comment
	for _, c := range m.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) commentsOfType(taskID string, ct task.CommentType) []task.Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Comment
	for _, c := range m.comments {
		if c.TaskID == taskID && c.Type == ct {
			out = append(out, c)
		}
	}
	return out
}

// --- Queue mock ---

type enqueuedJob struct {
	Lane messagequeue.Lane
	Job  messagequeue.Job
}

type mockQueue struct {
	mu          sync.Mutex
	jobs        []enqueuedJob
	enqueueErr  error
	enqueueSeen int
}

func (m *mockQueue) Enqueue(_ context.Context, lane messagequeue.Lane, job messagequeue.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueSeen++
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	job.ID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	job.EnqueuedAt = time.Now().UTC()
	m.jobs = append(m.jobs, enqueuedJob{Lane: lane, Job: job})
	return job.ID, nil
}

func (m *mockQueue) Consume(_ context.Context, _ messagequeue.Lane, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) enqueued() []enqueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]enqueuedJob(nil), m.jobs...)
}

// --- Broadcaster mock ---

type broadcastEvent struct {
	TenantID  string
	EventType string
	Payload   any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, tenantID, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastEvent{TenantID: tenantID, EventType: eventType, Payload: payload})
}

func (m *mockBroadcaster) eventsOfType(eventType string) []broadcastEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broadcastEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- Completer mock ---

type completion struct {
	Response string
	Err      error
}

// mockCompleter replays a scripted sequence of responses and records every
// request it saw.
type mockCompleter struct {
	mu       sync.Mutex
	script   []completion
	requests []ai.Request
}

func (m *mockCompleter) Complete(_ context.Context, req ai.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return "ok", nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next.Response, next.Err
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// --- Cache mock ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}}
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Notifier mock ---

type mockNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
	err  error
}

func (m *mockNotifier) Name() string                        { return "mock" }
func (m *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }

func (m *mockNotifier) Send(_ context.Context, n notifier.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) sentNotifications() []notifier.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.Notification(nil), m.sent...)
}
