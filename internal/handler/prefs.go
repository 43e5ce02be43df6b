package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/auth"
	"github.com/anfal/wificards/internal/repository"
)

// PrefsHandler is a small key/value surface for client state that
// should survive reloads: theme, language, the unsaved-card draft.
// Keys are scoped to the signed-in user when there is one, otherwise
// to the device cookie, so a shared machine never leaks one account's
// prefs to another.
type PrefsHandler struct {
	prefs  repository.PrefsRepository
	logger *slog.Logger
}

func NewPrefsHandler(prefs repository.PrefsRepository, logger *slog.Logger) *PrefsHandler {
	return &PrefsHandler{prefs: prefs, logger: logger}
}

const maxPrefValueBytes = 16 * 1024

// scopeFromRequest prefers the user scope over the device scope.
func scopeFromRequest(r *http.Request) (string, bool) {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + userID, true
	}
	if deviceID, ok := auth.DeviceIDFromContext(r.Context()); ok {
		return "device:" + deviceID, true
	}
	return "", false
}

// HandleGet returns one stored value.
//
// GET /api/prefs/{key}
func (h *PrefsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, apperror.ValidationFailed("scope", "no device cookie"))
		return
	}
	key := chi.URLParam(r, "key")

	value, err := h.prefs.Get(r.Context(), scope, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// HandleSet stores one value, overwriting any previous one.
//
// PUT /api/prefs/{key}
func (h *PrefsHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, apperror.ValidationFailed("scope", "no device cookie"))
		return
	}
	key := chi.URLParam(r, "key")

	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Value) > maxPrefValueBytes {
		writeError(w, apperror.ValidationFailed("value", "value too large"))
		return
	}

	if err := h.prefs.Set(r.Context(), scope, key, req.Value); err != nil {
		h.logger.Error("storing pref",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

// HandleDelete removes one value. Absent keys delete to 204 as well.
//
// DELETE /api/prefs/{key}
func (h *PrefsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, apperror.ValidationFailed("scope", "no device cookie"))
		return
	}
	key := chi.URLParam(r, "key")

	if err := h.prefs.Delete(r.Context(), scope, key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
