package plan_test

import (
	"strings"
	"testing"
	"time"

	"github.com/skalegrid/agentq/internal/domain/plan"
)

func TestParseClassification_Valid(t *testing.T) {
	c := plan.ParseClassification(`{"is_long_running": true, "estimated_duration_seconds": 900}`)
	if !c.IsLongRunning {
		t.Error("expected long-running verdict")
	}
	if c.EstimatedDurationSeconds != 900 {
		t.Errorf("estimated seconds = %d, want 900", c.EstimatedDurationSeconds)
	}
}

func TestParseClassification_WrappedInProse(t *testing.T) {
	raw := "Sure, here is the verdict:\n```json\n{\"is_long_running\": true, \"estimated_duration_seconds\": 120}\n```\nLet me know if you need more."
	c := plan.ParseClassification(raw)
	if !c.IsLongRunning {
		t.Error("expected long-running verdict from fenced response")
	}
}

func TestParseClassification_MalformedDefaultsShortRunning(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot decide.",
		`{"is_long_running": "maybe"}`,
		"{broken json",
	} {
		c := plan.ParseClassification(raw)
		if c.IsLongRunning {
			t.Errorf("ParseClassification(%q) = long-running, want short-running default", raw)
		}
	}
}

func TestParseClassification_NegativeDurationClamped(t *testing.T) {
	c := plan.ParseClassification(`{"is_long_running": false, "estimated_duration_seconds": -30}`)
	if c.EstimatedDurationSeconds != 0 {
		t.Errorf("estimated seconds = %d, want 0", c.EstimatedDurationSeconds)
	}
}

func TestParsePlan_Valid(t *testing.T) {
	raw := `{
		"steps": [
			{"step_number": 7, "title": "Gather sources", "estimated_duration_seconds": 300, "required": true},
			{"step_number": 9, "title": "Write summary", "estimated_duration_seconds": 600, "required": false}
		],
		"estimated_duration_minutes": 20,
		"requires_approval": false,
		"success_criteria": ["summary delivered"]
	}`
	p := plan.ParsePlan(raw, "Research report")
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(p.Steps))
	}
	// Step numbers are renumbered sequentially regardless of model output.
	if p.Steps[0].StepNumber != 1 || p.Steps[1].StepNumber != 2 {
		t.Errorf("step numbers = %d, %d, want 1, 2", p.Steps[0].StepNumber, p.Steps[1].StepNumber)
	}
	if !p.Steps[0].Required {
		t.Error("explicit required=true lost")
	}
	if p.Steps[1].Required {
		t.Error("explicit required=false lost")
	}
	if p.RequiresApproval {
		t.Error("requires_approval=false lost")
	}
	if p.EstimatedDurationMinutes != 20 {
		t.Errorf("estimated minutes = %d, want 20", p.EstimatedDurationMinutes)
	}
}

func TestParsePlan_MissingRequiredDefaultsTrue(t *testing.T) {
	raw := `{"steps": [{"title": "Do the thing", "estimated_duration_seconds": 60}]}`
	p := plan.ParsePlan(raw, "Task")
	if len(p.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(p.Steps))
	}
	if !p.Steps[0].Required {
		t.Error("step with absent required flag must default to required")
	}
}

func TestParsePlan_DerivesMinutesFromSteps(t *testing.T) {
	raw := `{"steps": [
		{"title": "a", "estimated_duration_seconds": 90},
		{"title": "b", "estimated_duration_seconds": 120}
	]}`
	p := plan.ParsePlan(raw, "Task")
	if p.EstimatedDurationMinutes != 4 {
		t.Errorf("derived minutes = %d, want 4 (210s rounded up)", p.EstimatedDurationMinutes)
	}
}

func TestParsePlan_EmptyTitleGetsPlaceholder(t *testing.T) {
	raw := `{"steps": [{"title": "  ", "estimated_duration_seconds": 60}]}`
	p := plan.ParsePlan(raw, "Task")
	if p.Steps[0].Title != "Step 1" {
		t.Errorf("title = %q, want %q", p.Steps[0].Title, "Step 1")
	}
}

func TestParsePlan_FallbackOnGarbage(t *testing.T) {
	for _, raw := range []string{
		"no json here",
		"{not valid json",
		`{"steps": []}`,
		`{"estimated_duration_minutes": 10}`,
	} {
		p := plan.ParsePlan(raw, "Migrate the database")
		if len(p.Steps) != 1 {
			t.Fatalf("ParsePlan(%q): fallback steps = %d, want 1", raw, len(p.Steps))
		}
		if !p.RequiresApproval {
			t.Errorf("ParsePlan(%q): fallback plan must require approval", raw)
		}
		if !p.Steps[0].Required {
			t.Errorf("ParsePlan(%q): fallback step must be required", raw)
		}
		if p.Steps[0].Title != "Migrate the database" {
			t.Errorf("ParsePlan(%q): fallback title = %q", raw, p.Steps[0].Title)
		}
		if len(p.Risks) == 0 || !strings.Contains(p.Risks[0], "malformed") {
			t.Errorf("ParsePlan(%q): fallback risks = %v", raw, p.Risks)
		}
	}
}

func TestJobTimeout(t *testing.T) {
	p := &plan.Plan{EstimatedDurationMinutes: 20}
	if got := p.JobTimeout(); got != 25*time.Minute {
		t.Errorf("JobTimeout = %s, want 25m", got)
	}
	// Unset estimate falls back to the 30 minute default plus buffer.
	p = &plan.Plan{}
	if got := p.JobTimeout(); got != 35*time.Minute {
		t.Errorf("JobTimeout with no estimate = %s, want 35m", got)
	}
}
