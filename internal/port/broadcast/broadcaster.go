// Package broadcast defines the port for pushing real-time events to
// connected listeners (chat UI).
package broadcast

import "context"

// Broadcaster emits fire-and-forget events to all connected clients of a
// tenant.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to the tenant's listeners.
	BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any)
}
