package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/auth"
	"github.com/anfal/wificards/internal/model"
	"github.com/anfal/wificards/internal/service"
)

// CardHandler exposes the saved-card CRUD and the QR preview. All its
// routes sit behind RequireAuth; the confirmed-email rule for saving
// is enforced in the service, the handler just supplies the state.
type CardHandler struct {
	cards   *service.CardService
	users   *service.AuthService
	metrics Metrics
	logger  *slog.Logger
}

func NewCardHandler(cards *service.CardService, users *service.AuthService, metrics Metrics, logger *slog.Logger) *CardHandler {
	return &CardHandler{cards: cards, users: users, metrics: metrics, logger: logger}
}

// cardRequest is the body for creating a card or previewing its QR.
type cardRequest struct {
	Title    string `json:"title"`
	SSID     string `json:"ssid"`
	Password string `json:"password"`
	Security string `json:"security"`
}

// HandleList returns the caller's saved cards, newest first.
//
// GET /api/cards
func (h *CardHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	cards, err := h.cards.Fetch(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if cards == nil {
		cards = []model.WifiCard{}
	}
	writeJSON(w, http.StatusOK, cards)
}

// HandleCreate composes and saves a card.
//
// POST /api/cards
func (h *CardHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req cardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	card, err := h.cards.Compose(req.Title, req.SSID, req.Password, req.Security)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := h.cards.Create(r.Context(), userID, user.Confirmed(), card)
	if err != nil {
		h.recordRejection(err)
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordCardCreated()
		h.metrics.RecordQREncode()
	}
	writeJSON(w, http.StatusCreated, created)
}

// recordRejection classifies a failed save for the rejection counter.
func (h *CardHandler) recordRejection(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, apperror.ErrCapacity):
		h.metrics.RecordCardRejected("limit")
	case errors.Is(err, apperror.ErrConflict):
		h.metrics.RecordCardRejected("duplicate")
	case errors.Is(err, apperror.ErrUnconfirmed):
		h.metrics.RecordCardRejected("unconfirmed")
	case errors.Is(err, apperror.ErrValidation):
		h.metrics.RecordCardRejected("validation")
	default:
		h.metrics.RecordCardRejected("other")
	}
}

// HandlePreview encodes network details into a QR image without
// saving anything. Same validation as creation, minus the title.
//
// POST /api/qr/preview
func (h *CardHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Title == "" {
		req.Title = "preview"
	}

	card, err := h.cards.Compose(req.Title, req.SSID, req.Password, req.Security)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordQREncode()
	}
	writeJSON(w, http.StatusOK, map[string]string{"qrUrl": card.QRRef})
}

// HandleUpdate applies a partial update to one card.
//
// PATCH /api/cards/{id}
func (h *CardHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var patch model.CardPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.cards.Update(r.Context(), userID, id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDelete removes one card. Deleting a card that is already gone
// still returns 204.
//
// DELETE /api/cards/{id}
func (h *CardHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.cards.Delete(r.Context(), userID, id); err != nil {
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordCardDeleted()
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAll removes every card the caller has saved.
//
// DELETE /api/cards
func (h *CardHandler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.cards.DeleteAll(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLatest returns the most recently saved card, or 404 when
// there are none.
//
// GET /api/cards/latest
func (h *CardHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	latest, err := h.cards.Latest(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if latest == nil {
		writeError(w, apperror.NotFound("card", "latest"))
		return
	}
	writeJSON(w, http.StatusOK, latest)
}
