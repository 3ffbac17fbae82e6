package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/skalegrid/agentq/internal/adapter/ws"
	"github.com/skalegrid/agentq/internal/port/database"
	"github.com/skalegrid/agentq/internal/port/messagequeue"
	"github.com/skalegrid/agentq/internal/resilience"
	"github.com/skalegrid/agentq/internal/service"
)

const defaultCommentLimit = 100

// Handlers bundles all HTTP handlers with their dependencies.
type Handlers struct {
	store        database.Store
	orchestrator *service.Orchestrator
	sweeper      *service.Sweeper
	queue        messagequeue.Queue
	hub          *ws.Hub
	breaker      *resilience.Breaker
	log          *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	store database.Store,
	orchestrator *service.Orchestrator,
	sweeper *service.Sweeper,
	queue messagequeue.Queue,
	hub *ws.Hub,
	breaker *resilience.Breaker,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		store:        store,
		orchestrator: orchestrator,
		sweeper:      sweeper,
		queue:        queue,
		hub:          hub,
		breaker:      breaker,
		log:          log,
	}
}

// GetTask returns a task with its orchestration state.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	t, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTaskComments returns the task's audit trail, oldest first.
func (h *Handlers) ListTaskComments(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	limit := defaultCommentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	comments, err := h.store.ListComments(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments, "count": len(comments)})
}

// DetectTask runs duration detection and routing for a task.
func (h *Handlers) DetectTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	outcome, err := h.orchestrator.DetectAndHandle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type approvalRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// ApproveTask approves a gated task and dispatches it.
func (h *Handlers) ApproveTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	req, ok := readJSON[approvalRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	outcome, err := h.orchestrator.Approve(r.Context(), id, req.UserID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// RejectTask rejects a gated task; it reaches its terminal state unexecuted.
func (h *Handlers) RejectTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	req, ok := readJSON[approvalRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	if err := h.orchestrator.Reject(r.Context(), id, req.UserID, req.Reason); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task rejected"})
}

// RunMaintenance triggers a maintenance sweep on demand.
func (h *Handlers) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunMaintenance(r.Context())
	if err != nil {
		h.log.Error("manual maintenance sweep failed", "error", err)
		// Partial reports are still useful to the operator.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports component status.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	queueOK := h.queue.IsConnected()
	if !queueOK {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":          map[bool]string{true: "ok", false: "degraded"}[queueOK],
		"queue_connected": queueOK,
		"ai_breaker":      h.breaker.State().String(),
		"ws_connections":  h.hub.ConnectionCount(),
	})
}
