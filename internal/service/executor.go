package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/ai"
	"github.com/skalegrid/agentq/internal/port/database"
	"github.com/skalegrid/agentq/internal/port/messagequeue"
)

// ExecutorConfig bounds a single execution run.
type ExecutorConfig struct {
	DefaultModel     string
	StepPause        time.Duration
	StepMaxTokens    int
	SummaryMaxTokens int
}

// Executor runs queued jobs: it walks the task's plan step by step on a
// single growing transcript, reporting progress at each step boundary.
type Executor struct {
	store    database.Store
	ai       ai.Completer
	progress *ProgressService
	metrics  *observability.Metrics
	log      *slog.Logger
	cfg      ExecutorConfig
}

// NewExecutor creates an Executor.
func NewExecutor(store database.Store, completer ai.Completer, progress *ProgressService, metrics *observability.Metrics, log *slog.Logger, cfg ExecutorConfig) *Executor {
	if cfg.StepMaxTokens <= 0 {
		cfg.StepMaxTokens = 4096
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = 2048
	}
	return &Executor{
		store:    store,
		ai:       completer,
		progress: progress,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
	}
}

// HandleJob is the queue handler. Failures that are durably recorded return
// nil so the backend does not redeliver a job whose task is already closed;
// only infrastructure errors before state is recorded propagate for
// redelivery.
func (s *Executor) HandleJob(ctx context.Context, job messagequeue.Job) error {
	ctx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	started := time.Now()
	s.log.Info("job started", "job_id", job.ID, "task_id", job.TaskID)

	t, err := s.store.GetTask(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.WithLabelValues(t.QueueName).Inc()
		defer s.metrics.QueueDepth.WithLabelValues(t.QueueName).Dec()
	}
	if t.Terminal() {
		// Redelivered job for a task another actor already closed.
		s.log.Warn("dropping job for terminal task", "job_id", job.ID, "task_id", t.ID)
		return nil
	}
	if t.Plan == nil || len(t.Plan.Steps) == 0 {
		_, _, _ = s.progress.Fail(ctx, t, "no execution plan found", false)
		return nil
	}

	a, err := s.store.GetAgent(ctx, t.AgentID)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	userID := job.UserID
	if userID == "" {
		userID = t.CreatorID
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		// The creator owns notifications for this run; without them the job
		// cannot finish cleanly, so fail fast before any AI spend.
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	result, runErr := s.run(ctx, t, a)
	if runErr != nil {
		_, _, failErr := s.progress.Fail(ctx, t, runErr.Error(), false)
		if failErr != nil {
			return fmt.Errorf("job %s: record failure: %w", job.ID, failErr)
		}
		s.observeJob(t, started)
		return nil
	}

	if err := s.progress.Complete(ctx, t, result, a.Name); err != nil {
		return fmt.Errorf("job %s: complete: %w", job.ID, err)
	}
	s.observeJob(t, started)
	return nil
}

// run executes every plan step and the final summary exchange, returning the
// structured result. An error aborts the run only when a required step fails.
func (s *Executor) run(ctx context.Context, t *task.Task, a *agent.Agent) (*plan.Result, error) {
	p := t.Plan
	systemPrompt := buildExecutionSystemPrompt(a, t, p)
	model := t.ExecutionModel
	if model == "" {
		model = s.cfg.DefaultModel
	}

	transcript := make([]ai.Message, 0, 2*len(p.Steps)+2)
	outcomes := make([]plan.StepOutcome, 0, len(p.Steps))

	for i, step := range p.Steps {
		pct := i * 100 / len(p.Steps)
		s.progress.Report(ctx, t, pct, fmt.Sprintf("Step %d/%d: %s", step.StepNumber, len(p.Steps), step.Title))

		transcript = append(transcript, ai.Message{Role: ai.RoleUser, Content: buildStepPrompt(step, len(p.Steps))})

		response, err := s.ai.Complete(ctx, ai.Request{
			Model:       model,
			System:      systemPrompt,
			Messages:    transcript,
			Temperature: a.Temperature,
			MaxTokens:   s.cfg.StepMaxTokens,
		})
		if err != nil {
			outcomes = append(outcomes, plan.StepOutcome{
				StepNumber: step.StepNumber,
				Title:      step.Title,
				Success:    false,
				Error:      err.Error(),
			})
			if step.Required {
				return nil, fmt.Errorf("required step %d failed: %w", step.StepNumber, err)
			}
			s.log.Warn("optional step failed, continuing", "task_id", t.ID, "step", step.StepNumber, "error", err)
			// Drop the unanswered prompt so the transcript stays paired.
			transcript = transcript[:len(transcript)-1]
			if s.metrics != nil {
				s.metrics.StepsExecuted.WithLabelValues("failed").Inc()
			}
			continue
		}

		transcript = append(transcript, ai.Message{Role: ai.RoleAssistant, Content: response})
		outcomes = append(outcomes, plan.StepOutcome{
			StepNumber: step.StepNumber,
			Title:      step.Title,
			Success:    true,
			Response:   response,
		})
		if s.metrics != nil {
			s.metrics.StepsExecuted.WithLabelValues("succeeded").Inc()
		}

		// Brief pause between steps to stay under provider rate limits.
		if i < len(p.Steps)-1 && s.cfg.StepPause > 0 {
			select {
			case <-time.After(s.cfg.StepPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	transcript = append(transcript, ai.Message{Role: ai.RoleUser, Content: summaryPrompt})
	summary, err := s.ai.Complete(ctx, ai.Request{
		Model:       model,
		System:      systemPrompt,
		Messages:    transcript,
		Temperature: a.Temperature,
		MaxTokens:   s.cfg.SummaryMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("final summary failed: %w", err)
	}

	return &plan.Result{
		Success:        true,
		StepsCompleted: len(outcomes),
		Steps:          outcomes,
		Summary:        summary,
		CompletedAt:    time.Now().UTC(),
	}, nil
}

func (s *Executor) observeJob(t *task.Task, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveJob(t.QueueName, time.Since(started))
	}
}

const summaryPrompt = `All steps have been completed. Please provide a final summary:

1. Overall outcome and results
2. Key findings or deliverables
3. Any files generated or actions taken
4. Success status

Be concise but complete.`

func buildStepPrompt(step plan.Step, total int) string {
	return fmt.Sprintf(`Execute step %d of %d:

**Step:** %s
**Description:** %s
**Estimated Duration:** %d seconds

Please complete this step and provide:
1. What you did
2. The outcome/results
3. Any data or findings
4. Whether the step succeeded

Be thorough and detailed in your response.`,
		step.StepNumber, total, step.Title, step.Description, step.EstimatedDurationSeconds)
}

// buildExecutionSystemPrompt layers the execution framing on top of the
// agent's own persona.
func buildExecutionSystemPrompt(a *agent.Agent, t *task.Task, p *plan.Plan) string {
	desc := t.Description
	if desc == "" {
		desc = "No additional description"
	}

	var criteria strings.Builder
	for _, c := range p.SuccessCriteria {
		fmt.Fprintf(&criteria, "- %s\n", c)
	}
	var risks strings.Builder
	for _, r := range p.Risks {
		fmt.Fprintf(&risks, "- %s\n", r)
	}

	return a.Persona() + fmt.Sprintf(`

## TASK EXECUTION MODE

You are currently executing a long-running task in the background. This is a multi-step process.

**Task:** %s
**Description:** %s
**Estimated Duration:** %d minutes
**Number of Steps:** %d

**Success Criteria:**
%s
**Known Risks:**
%s
## EXECUTION GUIDELINES

1. **Follow the plan**: Complete each step thoroughly before moving to the next
2. **Be detailed**: Provide comprehensive results for each step
3. **Handle errors gracefully**: If a step encounters issues, explain what went wrong
4. **Stay focused**: Keep responses relevant to the current step
5. **Provide evidence**: When completing actions, describe what you did and the outcome

## PROGRESS TRACKING

Your progress is being tracked and displayed to the user in real-time. After completing each step, the system will automatically update the progress indicator.

Begin execution when prompted with the first step.`,
		t.Title, desc, p.EstimatedDurationMinutes, len(p.Steps), criteria.String(), risks.String())
}
