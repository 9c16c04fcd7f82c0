package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
	"github.com/Dinehub1/rewardjar-sync/middleware"
	"github.com/Dinehub1/rewardjar-sync/services"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type QueueHandler struct {
	queue    *services.SyncQueueService
	health   *services.QueueHealthService
	validate *validator.Validate
}

func NewQueueHandler(queue *services.SyncQueueService, health *services.QueueHealthService) *QueueHandler {
	return &QueueHandler{
		queue:    queue,
		health:   health,
		validate: validator.New(),
	}
}

// GET /api/v1/queue
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	snapshot, err := h.queue.GetQueue(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load queue")
		return
	}

	stats, err := h.health.GetStatistics(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}

	healthReport, err := h.health.GetHealth(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to compute health")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"queue":      snapshot,
		"statistics": stats,
		"health":     healthReport,
	})
}

type queueActionRequest struct {
	Action   string   `json:"action" validate:"required,oneof=retry force fail clear_completed clear_failed"`
	ItemIDs  []string `json:"item_ids" validate:"omitempty,dive,uuid"`
	Priority string   `json:"priority" validate:"omitempty,oneof=high normal low"`
	Reason   string   `json:"reason"`
}

// POST /api/v1/queue/action
func (h *QueueHandler) QueueAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	operatorID, ok := middleware.GetOperatorID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req queueActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]uuid.UUID, 0, len(req.ItemIDs))
	for _, raw := range req.ItemIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid item id: "+raw)
			return
		}
		ids = append(ids, id)
	}

	switch req.Action {
	case "retry", "force", "fail":
		if len(ids) == 0 {
			respondWithError(w, http.StatusBadRequest, "item_ids is required for "+req.Action)
			return
		}
	}

	var (
		result  *syncqueue.BatchResult
		purged  int
		message string
		err     error
	)

	switch req.Action {
	case "retry":
		priority := syncqueue.PriorityNormal
		if req.Priority != "" {
			priority = syncqueue.Priority(req.Priority)
		}
		result, err = h.queue.Retry(ctx, ids, priority, operatorID)
		message = "Items requeued"
	case "force":
		result, err = h.queue.ForceComplete(ctx, ids, operatorID)
		message = "Items marked completed"
	case "fail":
		if req.Reason == "" {
			respondWithError(w, http.StatusBadRequest, "reason is required for fail")
			return
		}
		result, err = h.queue.Fail(ctx, ids, req.Reason, operatorID)
		message = "Items marked failed"
	case "clear_completed":
		purged, err = h.queue.PurgeCompleted(ctx)
		message = fmt.Sprintf("Removed %d completed items", purged)
	case "clear_failed":
		purged, err = h.queue.PurgeFailed(ctx)
		message = fmt.Sprintf("Removed %d failed items", purged)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Queue action failed: "+err.Error())
		return
	}

	resp := map[string]any{"message": message}
	if result != nil {
		resp["items_processed"] = len(result.Succeeded)
		resp["failed"] = result.Failed
	} else {
		resp["items_processed"] = purged
	}

	respondWithJSON(w, http.StatusOK, resp)
}
