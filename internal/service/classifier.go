package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/domain/plan"
	"github.com/skalegrid/agentq/internal/domain/task"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/ai"
	"github.com/skalegrid/agentq/internal/port/cache"
)

const classifierSystemPrompt = `You are a task duration classifier. Given a task, decide whether completing it will take long enough that it should run as a background job instead of an immediate chat response.

Respond with ONLY a JSON object, no prose:
{"is_long_running": true|false, "estimated_duration_seconds": <integer>}

A task is long-running when it involves multi-step research, bulk processing, report or document generation, or anything likely to take more than about a minute of work.`

// Classifier decides whether a task is long-running. Verdicts for identical
// task content are cached so duplicate submissions skip the AI call.
type Classifier struct {
	ai       ai.Completer
	cache    cache.Cache
	metrics  *observability.Metrics
	log      *slog.Logger
	model    string
	cacheTTL time.Duration
}

// NewClassifier creates a Classifier. The cache is optional.
func NewClassifier(completer ai.Completer, c cache.Cache, metrics *observability.Metrics, log *slog.Logger, model string, cacheTTL time.Duration) *Classifier {
	return &Classifier{
		ai:       completer,
		cache:    c,
		metrics:  metrics,
		log:      log,
		model:    model,
		cacheTTL: cacheTTL,
	}
}

// Classify returns the duration verdict for a task. A transport failure is
// returned to the caller; a malformed model response degrades to the
// fail-safe short-running verdict.
func (s *Classifier) Classify(ctx context.Context, t *task.Task, a *agent.Agent) (plan.Classification, error) {
	key := classificationKey(t)

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached plan.Classification
			if err := json.Unmarshal(data, &cached); err == nil {
				s.log.Debug("classification cache hit", "task_id", t.ID)
				return cached, nil
			}
		}
	}

	prompt := buildClassifierPrompt(t, a)

	start := time.Now()
	raw, err := s.ai.Complete(ctx, ai.Request{
		Model:     s.model,
		System:    classifierSystemPrompt,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: prompt}},
		MaxTokens: 256,
	})
	if s.metrics != nil {
		s.metrics.ObserveAIRequest("classify", time.Since(start))
	}
	if err != nil {
		return plan.Classification{}, fmt.Errorf("classify task %s: %w", t.ID, err)
	}

	verdict := plan.ParseClassification(raw)

	if s.cache != nil {
		if data, err := json.Marshal(verdict); err == nil {
			_ = s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}

	s.log.Info("task classified",
		"task_id", t.ID,
		"is_long_running", verdict.IsLongRunning,
		"estimated_seconds", verdict.EstimatedDurationSeconds,
	)
	return verdict, nil
}

// buildClassifierPrompt assembles the task content plus assignment context.
func buildClassifierPrompt(t *task.Task, a *agent.Agent) string {
	var b strings.Builder

	desc := t.Description
	if desc == "" {
		desc = t.Title
	}
	fmt.Fprintf(&b, "Task: %s\n", desc)
	fmt.Fprintf(&b, "Assigned to: %s\n", a.Name)
	if t.DueDate != nil {
		fmt.Fprintf(&b, "Due date: %s\n", t.DueDate.Format(time.RFC3339))
	}
	if t.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %s\n", t.ProjectName)
	}
	return b.String()
}

// classificationKey hashes the classifier's inputs; tasks with the same
// content share one verdict.
func classificationKey(t *task.Task) string {
	sum := sha256.Sum256([]byte(t.Title + "\x00" + t.Description + "\x00" + string(t.Priority)))
	return "classify:" + hex.EncodeToString(sum[:])
}
