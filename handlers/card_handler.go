package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/middleware"
	"github.com/Dinehub1/rewardjar-sync/services"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type CardHandler struct {
	progress *services.CardProgressService
	passes   *services.PassService
	validate *validator.Validate
}

func NewCardHandler(progress *services.CardProgressService, passes *services.PassService) *CardHandler {
	return &CardHandler{
		progress: progress,
		passes:   passes,
		validate: validator.New(),
	}
}

type markActionRequest struct {
	CardID   string         `json:"card_id" validate:"required,uuid"`
	Action   string         `json:"action" validate:"required,oneof=stamp session"`
	Metadata map[string]any `json:"metadata"`
}

// POST /api/v1/cards/mark-action
func (h *CardHandler) MarkAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	operatorID, ok := middleware.GetOperatorID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req markActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid card id")
		return
	}

	result, err := h.progress.MarkAction(ctx, cardID, operatorID, card.ActionType(req.Action), req.Metadata)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

type validateCardRequest struct {
	CardID string `json:"card_id" validate:"required,uuid"`
}

// POST /api/v1/cards/validate
//
// Dry run: reports what the wallet pipeline would produce without touching
// the queue.
func (h *CardHandler) ValidateCard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req validateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid card id")
		return
	}

	report, err := h.passes.ValidateCard(ctx, cardID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

// GET /api/v1/cards/{cardId}/passes
func (h *CardHandler) GetCardPasses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	vars := mux.Vars(r)
	cardID, err := uuid.Parse(vars["cardId"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid card id")
		return
	}

	artifacts, err := h.passes.LatestPasses(ctx, cardID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"card_id": cardID,
		"passes":  artifacts,
	})
}

// respondWithDomainError maps progress rejections onto HTTP codes so clients
// can branch on the stable code field.
func respondWithDomainError(w http.ResponseWriter, err error) {
	var de *card.DomainError
	if !errors.As(err, &de) {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusConflict
	switch de.Code {
	case card.ErrCardNotFound.Code:
		status = http.StatusNotFound
	case card.ErrCooldownActive.Code:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(de.RetryAfter.Seconds())+1))
	}

	respondWithJSON(w, status, map[string]string{
		"error": de.Message,
		"code":  de.Code,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
