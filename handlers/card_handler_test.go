package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
	"github.com/Dinehub1/rewardjar-sync/middleware"
	"github.com/Dinehub1/rewardjar-sync/services"
)

func testCardHandler(t *testing.T, store *storage.Memory) *CardHandler {
	t.Helper()
	progress := services.NewCardProgressService(store, store, store, services.CooldownConfig{Stamp: 30 * time.Second})
	google, err := wallet.NewGoogleEncoder("3388000000012345", "svc@example.iam.gserviceaccount.com", nil)
	require.NoError(t, err)
	validator := wallet.NewValidator(
		&wallet.AppleEncoder{PassTypeIdentifier: "pass.com.example.loyalty", TeamIdentifier: "TEAM123456"},
		google,
		&wallet.PWAEncoder{BaseURL: "https://wallet.example.com"},
	)
	passes := services.NewPassService(store, store, validator)
	return NewCardHandler(progress, passes)
}

func seedStamp(store *storage.Memory, current, total int) *card.StampCard {
	c := &card.StampCard{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		TemplateID:    uuid.New(),
		CurrentStamps: current,
		TotalStamps:   total,
	}
	store.PutCard(c)
	return c
}

func markRequest(t *testing.T, cardID uuid.UUID, action string) *http.Request {
	t.Helper()
	body := `{"card_id": "` + cardID.String() + `", "action": "` + action + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cards/mark-action", strings.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.OperatorIDKey, "op_test")
	return req.WithContext(ctx)
}

func TestMarkAction_OK(t *testing.T) {
	store := storage.NewMemory()
	h := testCardHandler(t, store)
	c := seedStamp(store, 3, 10)

	rr := httptest.NewRecorder()
	h.MarkAction(rr, markRequest(t, c.ID, "stamp"))

	require.Equal(t, http.StatusOK, rr.Code)
	var result card.ProgressResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 4, result.Current)
	assert.Equal(t, 10, result.Max)
}

func TestMarkAction_Unauthenticated(t *testing.T) {
	store := storage.NewMemory()
	h := testCardHandler(t, store)
	c := seedStamp(store, 3, 10)

	body := `{"card_id": "` + c.ID.String() + `", "action": "stamp"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cards/mark-action", strings.NewReader(body))
	rr := httptest.NewRecorder()

	h.MarkAction(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMarkAction_UnknownCardIs404(t *testing.T) {
	h := testCardHandler(t, storage.NewMemory())

	rr := httptest.NewRecorder()
	h.MarkAction(rr, markRequest(t, uuid.New(), "stamp"))

	require.Equal(t, http.StatusNotFound, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "card_not_found", resp["code"])
}

func TestMarkAction_CompleteCardIs409(t *testing.T) {
	store := storage.NewMemory()
	h := testCardHandler(t, store)
	c := seedStamp(store, 10, 10)

	rr := httptest.NewRecorder()
	h.MarkAction(rr, markRequest(t, c.ID, "stamp"))

	require.Equal(t, http.StatusConflict, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "card_already_complete", resp["code"])
}

func TestMarkAction_CooldownIs429WithRetryAfter(t *testing.T) {
	store := storage.NewMemory()
	h := testCardHandler(t, store)
	c := seedStamp(store, 0, 10)

	rr := httptest.NewRecorder()
	h.MarkAction(rr, markRequest(t, c.ID, "stamp"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.MarkAction(rr, markRequest(t, c.ID, "stamp"))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestMarkAction_BadAction(t *testing.T) {
	store := storage.NewMemory()
	h := testCardHandler(t, store)
	c := seedStamp(store, 0, 10)

	rr := httptest.NewRecorder()
	h.MarkAction(rr, markRequest(t, c.ID, "upgrade"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
