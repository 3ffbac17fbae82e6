package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalegrid/agentq/internal/domain"
	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/domain/user"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const taskColumns = `id, tenant_id, agent_id, creator_id, title, description, priority,
	due_date, project_name, status, is_long_running, execution_plan, execution_model,
	estimated_completion, requires_approval, approval_status, approved_by, approved_at,
	progress_percentage, current_step, last_progress_update, retry_count, queue_name,
	job_id, execution_result, execution_error, completed_at, created_at, updated_at`

// --- Lookups ---

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	var a agent.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, system_prompt, temperature, created_at
		 FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.TenantID, &a.Name, &a.SystemPrompt, &a.Temperature, &a.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.TenantID, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return &u, nil
}

// --- Sweep queries ---

func (s *Store) ListUnclassified(ctx context.Context, limit int) ([]task.Task, error) {
	return s.listTasks(ctx, "list unclassified",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'pending' AND is_long_running IS NULL AND agent_id IS NOT NULL
		 ORDER BY created_at ASC LIMIT $1`, limit)
}

func (s *Store) ListApprovedUndispatched(ctx context.Context, limit int) ([]task.Task, error) {
	return s.listTasks(ctx, "list approved undispatched",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'pending' AND is_long_running = TRUE AND job_id IS NULL
		   AND (requires_approval = FALSE OR approval_status = 'approved')
		 ORDER BY created_at ASC LIMIT $1`, limit)
}

func (s *Store) ListStaleInProgress(ctx context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	return s.listTasks(ctx, "list stale in progress",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'in_progress' AND is_long_running = TRUE
		   AND COALESCE(last_progress_update, updated_at) < $1
		 ORDER BY last_progress_update ASC NULLS FIRST LIMIT $2`, cutoff, limit)
}

func (s *Store) listTasks(ctx context.Context, op, query string, args ...any) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Classification and planning ---

func (s *Store) MarkShortRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET is_long_running = FALSE, updated_at = now()
		 WHERE id = $1 AND is_long_running IS NULL`, id)
	if err != nil {
		return fmt.Errorf("mark short running %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "mark short running")
	}
	return nil
}

func (s *Store) SavePlan(ctx context.Context, id string, p *plan.Plan, model string, estimatedCompletion time.Time, approval task.ApprovalStatus) error {
	planJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET is_long_running = TRUE, execution_plan = $2, execution_model = $3,
		        estimated_completion = $4, requires_approval = $5, approval_status = $6,
		        updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, planJSON, model, estimatedCompletion, p.RequiresApproval, nullIfEmpty(string(approval)))
	if err != nil {
		return fmt.Errorf("save plan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "save plan")
	}
	return nil
}

// --- Approval gate ---

func (s *Store) ApproveTask(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET approval_status = 'approved', approved_by = $2, approved_at = now(), updated_at = now()
		 WHERE id = $1 AND requires_approval AND approval_status = 'pending'`, id, userID)
	if err != nil {
		return fmt.Errorf("approve task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "approve task")
	}
	return nil
}

func (s *Store) RejectTask(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET approval_status = 'rejected', approved_by = $2, approved_at = now(),
		        status = 'completed', completed_at = now(), updated_at = now()
		 WHERE id = $1 AND requires_approval AND approval_status = 'pending'`, id, userID)
	if err != nil {
		return fmt.Errorf("reject task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "reject task")
	}
	return nil
}

// --- Dispatch ---

func (s *Store) ClaimForDispatch(ctx context.Context, id, queueName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'in_progress', queue_name = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending' AND job_id IS NULL AND is_long_running = TRUE
		   AND (requires_approval = FALSE OR approval_status = 'approved')`, id, queueName)
	if err != nil {
		return fmt.Errorf("claim for dispatch %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "claim for dispatch")
	}
	return nil
}

func (s *Store) RecordJob(ctx context.Context, id, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET job_id = $2, updated_at = now() WHERE id = $1`, id, jobID)
	if err != nil {
		return fmt.Errorf("record job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record job %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ReleaseDispatch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending', queue_name = NULL, job_id = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'in_progress'`, id)
	if err != nil {
		return fmt.Errorf("release dispatch %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "release dispatch")
	}
	return nil
}

// --- Execution progress ---

func (s *Store) UpdateProgress(ctx context.Context, id string, pct int, currentStep string, at time.Time) error {
	// GREATEST keeps the stored percentage monotonic under out-of-order writes.
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET progress_percentage = GREATEST(progress_percentage, $2),
		        current_step = $3, last_progress_update = $4, updated_at = now()
		 WHERE id = $1 AND status = 'in_progress'`, id, pct, nullIfEmpty(currentStep), at)
	if err != nil {
		return fmt.Errorf("update progress %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "update progress")
	}
	return nil
}

func (s *Store) CompleteTask(ctx context.Context, id string, result *plan.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'completed', execution_result = $2, execution_error = NULL,
		        progress_percentage = 100, current_step = NULL, completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'in_progress'`, id, resultJSON)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "complete task")
	}
	return nil
}

func (s *Store) RecordFailure(ctx context.Context, id, execError string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE tasks SET execution_error = $2, retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1 RETURNING retry_count`, id, execError).Scan(&count)
	if err != nil {
		return 0, notFoundWrap(err, "record failure %s", id)
	}
	return count, nil
}

func (s *Store) MarkFailedTerminal(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'completed', completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status <> 'completed'`, id)
	if err != nil {
		return fmt.Errorf("mark failed terminal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id, "mark failed terminal")
	}
	return nil
}

// --- Comments ---

func (s *Store) CreateComment(ctx context.Context, c *task.Comment) error {
	var metadata any
	if len(c.Metadata) > 0 {
		metadata = []byte(c.Metadata)
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO task_comments (task_id, tenant_id, user_id, agent_id, comment_type, body, metadata, is_system)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		c.TaskID, c.TenantID, nullIfEmpty(c.UserID), nullIfEmpty(c.AgentID),
		string(c.Type), c.Body, metadata, c.System).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create comment for task %s: %w", c.TaskID, err)
	}
	return nil
}

func (s *Store) ListComments(ctx context.Context, taskID string, limit int) ([]task.Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, tenant_id, user_id, agent_id, comment_type, body, metadata, is_system, created_at
		 FROM task_comments WHERE task_id = $1 ORDER BY created_at ASC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var comments []task.Comment
	for rows.Next() {
		var (
			out             task.Comment
			userID, agentID *string
			commentType     string
			metadata        []byte
		)
		if err := rows.Scan(&out.ID, &out.TaskID, &out.TenantID, &userID, &agentID,
			&commentType, &out.Body, &metadata, &out.System, &out.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out.UserID = deref(userID)
		out.AgentID = deref(agentID)
		out.Type = task.CommentType(commentType)
		out.Metadata = metadata
		comments = append(comments, out)
	}
	return comments, rows.Err()
}

// scanTask decodes one tasks row, including the JSONB plan and result blobs.
func scanTask(row scannable) (task.Task, error) {
	var (
		t              task.Task
		agentID        *string
		description    *string
		projectName    *string
		isLongRunning  *bool
		planJSON       []byte
		executionModel *string
		approvalStatus *string
		approvedBy     *string
		currentStep    *string
		queueName      *string
		jobID          *string
		resultJSON     []byte
		executionError *string
	)

	err := row.Scan(
		&t.ID, &t.TenantID, &agentID, &t.CreatorID, &t.Title, &description, &t.Priority,
		&t.DueDate, &projectName, &t.Status, &isLongRunning, &planJSON, &executionModel,
		&t.EstimatedCompletion, &t.RequiresApproval, &approvalStatus, &approvedBy, &t.ApprovedAt,
		&t.ProgressPct, &currentStep, &t.LastProgressAt, &t.RetryCount, &queueName,
		&jobID, &resultJSON, &executionError, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return task.Task{}, err
	}

	t.AgentID = deref(agentID)
	t.Description = deref(description)
	t.ProjectName = deref(projectName)
	t.LongRunning = task.LongRunningFromBoolPtr(isLongRunning)
	t.ExecutionModel = deref(executionModel)
	t.ApprovalStatus = task.ApprovalStatus(deref(approvalStatus))
	t.ApprovedBy = deref(approvedBy)
	t.CurrentStep = deref(currentStep)
	t.QueueName = deref(queueName)
	t.JobID = deref(jobID)
	t.ExecutionError = deref(executionError)

	if len(planJSON) > 0 {
		var p plan.Plan
		if err := json.Unmarshal(planJSON, &p); err != nil {
			return task.Task{}, fmt.Errorf("decode plan for task %s: %w", t.ID, err)
		}
		t.Plan = &p
	}
	if len(resultJSON) > 0 {
		var r plan.Result
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return task.Task{}, fmt.Errorf("decode result for task %s: %w", t.ID, err)
		}
		t.Result = &r
	}

	return t, nil
}
