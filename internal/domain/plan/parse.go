package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wireStep mirrors the planner's JSON output. Required is a pointer so a
// missing flag can be told apart from an explicit false; missing defaults to
// required (fail-closed).
type wireStep struct {
	StepNumber               int    `json:"step_number"`
	Title                    string `json:"title"`
	Description              string `json:"description"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	Required                 *bool  `json:"required"`
}

type wirePlan struct {
	Steps                    []wireStep `json:"steps"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
	RequiresApproval         bool       `json:"requires_approval"`
	ApprovalReasoning        string     `json:"approval_reasoning"`
	SuccessCriteria          []string   `json:"success_criteria"`
	Risks                    []string   `json:"risks"`
}

// ParseClassification decodes a classifier response. Malformed or empty
// responses yield the fail-safe default: not long-running, so the task is
// executed synchronously rather than silently dropped.
func ParseClassification(raw string) Classification {
	body, ok := extractJSONObject(raw)
	if !ok {
		return Classification{}
	}
	var c Classification
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return Classification{}
	}
	if c.EstimatedDurationSeconds < 0 {
		c.EstimatedDurationSeconds = 0
	}
	return c
}

// ParsePlan decodes a planner response. On any parse failure it returns the
// fallback single-step plan, which requires approval so the system defaults
// to the human-gated path.
func ParsePlan(raw, taskTitle string) Plan {
	body, ok := extractJSONObject(raw)
	if !ok {
		return Fallback(taskTitle, fmt.Errorf("no JSON object in planner response"))
	}
	var wire wirePlan
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Fallback(taskTitle, err)
	}
	if len(wire.Steps) == 0 {
		return Fallback(taskTitle, fmt.Errorf("planner response has no steps"))
	}

	p := Plan{
		Steps:                    make([]Step, 0, len(wire.Steps)),
		EstimatedDurationMinutes: wire.EstimatedDurationMinutes,
		RequiresApproval:         wire.RequiresApproval,
		ApprovalReasoning:        wire.ApprovalReasoning,
		SuccessCriteria:          wire.SuccessCriteria,
		Risks:                    wire.Risks,
	}
	for i, ws := range wire.Steps {
		step := Step{
			StepNumber:               i + 1,
			Title:                    strings.TrimSpace(ws.Title),
			Description:              strings.TrimSpace(ws.Description),
			EstimatedDurationSeconds: ws.EstimatedDurationSeconds,
			Required:                 ws.Required == nil || *ws.Required,
		}
		if step.Title == "" {
			step.Title = fmt.Sprintf("Step %d", i+1)
		}
		p.Steps = append(p.Steps, step)
	}
	if p.EstimatedDurationMinutes <= 0 {
		total := 0
		for _, s := range p.Steps {
			total += s.EstimatedDurationSeconds
		}
		p.EstimatedDurationMinutes = total/60 + 1
	}
	return p
}

// Fallback synthesizes the minimal safe plan used when the planner output
// cannot be parsed: one required step and a mandatory approval gate, with a
// risk noting the parse failure.
func Fallback(taskTitle string, parseErr error) Plan {
	title := strings.TrimSpace(taskTitle)
	if title == "" {
		title = "Complete the task"
	}
	return Plan{
		Steps: []Step{{
			StepNumber:               1,
			Title:                    title,
			Description:              "Execute the task end to end and report the outcome.",
			EstimatedDurationSeconds: 1800,
			Required:                 true,
		}},
		EstimatedDurationMinutes: 30,
		RequiresApproval:         true,
		ApprovalReasoning:        "The generated plan could not be parsed, so human review is required before execution.",
		Risks:                    []string{fmt.Sprintf("plan generation output was malformed: %v", parseErr)},
	}
}

// extractJSONObject returns the outermost {...} region of raw. Models often
// wrap JSON in prose or markdown fences.
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
