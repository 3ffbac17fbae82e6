package task

import (
	"encoding/json"
	"time"
)

// CommentType classifies the audit-trail entries written by the orchestration
// components.
type CommentType string

const (
	CommentNote           CommentType = "note"
	CommentProgressUpdate CommentType = "progress_update"
	CommentStatusChange   CommentType = "status_change"
	CommentApproval       CommentType = "approval"
	CommentError          CommentType = "error"
)

// Comment is an append-only audit entry on a task. Comments are created by the
// orchestration components, never mutated or deleted.
type Comment struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	TenantID string `json:"tenant_id"`

	// Exactly one of UserID/AgentID is set for system comments with a known
	// author; both may be empty for sweeper-originated entries.
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`

	Type     CommentType     `json:"comment_type"`
	Body     string          `json:"body"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	System   bool            `json:"is_system"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSystemComment builds a system-generated comment. Metadata that fails to
// marshal is dropped rather than blocking the audit write.
func NewSystemComment(taskID, tenantID string, ct CommentType, body string, metadata any) Comment {
	c := Comment{
		TaskID:   taskID,
		TenantID: tenantID,
		Type:     ct,
		Body:     body,
		System:   true,
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			c.Metadata = raw
		}
	}
	return c
}
