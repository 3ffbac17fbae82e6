// Package agent defines the minimal Agent entity the executor needs.
package agent

import "time"

// Agent is the AI persona a task is assigned to. Agents are managed outside
// this subsystem; the executor only reads them.
type Agent struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Temperature  float64   `json:"temperature"`
	CreatedAt    time.Time `json:"created_at"`
}

// Persona returns the agent's base system prompt, defaulting to a generic
// assistant framing when none is configured.
func (a *Agent) Persona() string {
	if a.SystemPrompt != "" {
		return a.SystemPrompt
	}
	return "You are " + a.Name + ", a helpful AI assistant."
}
