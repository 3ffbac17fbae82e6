// Package user defines the minimal User entity referenced by tasks.
package user

import "time"

// User identifies the creator of a task. User management is external; this
// subsystem only reads the record for notifications and tenant context.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
