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
	"github.com/skalegrid/agentq/internal/domain/user"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/ai"
)

const plannerSystemPrompt = `You are an execution planner for AI agent tasks. Break the task into an ordered list of concrete steps an agent can execute one at a time.

Respond with ONLY a JSON object, no prose:
{
  "steps": [
    {"step_number": 1, "title": "...", "description": "...", "estimated_duration_seconds": 120, "required": true}
  ],
  "estimated_duration_minutes": 15,
  "requires_approval": false,
  "approval_reasoning": "...",
  "success_criteria": ["..."],
  "risks": ["..."]
}

Set requires_approval to true when the task touches external systems, sends communications, spends money, or is destructive. Mark a step required false only when the task can still succeed without it.`

// Planner generates the step-by-step execution plan for a long-running task.
type Planner struct {
	ai      ai.Completer
	metrics *observability.Metrics
	log     *slog.Logger
	model   string
}

// NewPlanner creates a Planner using the given model.
func NewPlanner(completer ai.Completer, metrics *observability.Metrics, log *slog.Logger, model string) *Planner {
	return &Planner{
		ai:      completer,
		metrics: metrics,
		log:     log,
		model:   model,
	}
}

// GeneratePlan produces the execution plan for a task. A transport failure is
// returned to the caller; unparseable planner output degrades to the fallback
// single-step plan, which always requires approval.
func (s *Planner) GeneratePlan(ctx context.Context, t *task.Task, a *agent.Agent, u *user.User) (*plan.Plan, error) {
	prompt := buildPlannerPrompt(t, a, u)

	start := time.Now()
	raw, err := s.ai.Complete(ctx, ai.Request{
		Model:     s.model,
		System:    plannerSystemPrompt,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: prompt}},
		MaxTokens: 2048,
	})
	if s.metrics != nil {
		s.metrics.ObserveAIRequest("plan", time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("generate plan for task %s: %w", t.ID, err)
	}

	p := plan.ParsePlan(raw, t.Title)

	s.log.Info("execution plan generated",
		"task_id", t.ID,
		"steps", len(p.Steps),
		"estimated_minutes", p.EstimatedDurationMinutes,
		"requires_approval", p.RequiresApproval,
	)
	return &p, nil
}

func buildPlannerPrompt(t *task.Task, a *agent.Agent, u *user.User) string {
	var b strings.Builder

	desc := t.Description
	if desc == "" {
		desc = t.Title
	}
	fmt.Fprintf(&b, "Task: %s\n", desc)
	fmt.Fprintf(&b, "Executing agent: %s\n", a.Name)
	fmt.Fprintf(&b, "Requested by: %s\n", u.Name)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	if t.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %s\n", t.ProjectName)
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, "Due date: %s\n", t.DueDate.Format(time.RFC3339))
	}
	return b.String()
}
