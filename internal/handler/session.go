package handler

import (
	"log/slog"
	"net/http"

	"github.com/anfal/wificards/internal/auth"
	"github.com/anfal/wificards/internal/service"
	"github.com/anfal/wificards/internal/session"
)

// SessionHandler exposes the per-device phase machine. Both routes run
// under OptionalAuth plus the device-cookie middleware: anonymous
// devices have a phase too.
type SessionHandler struct {
	sessions *session.Manager
	users    *service.AuthService
	logger   *slog.Logger
}

func NewSessionHandler(sessions *session.Manager, users *service.AuthService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, users: users, logger: logger}
}

type phaseResponse struct {
	Phase  session.Phase   `json:"phase"`
	Notice *session.Notice `json:"notice,omitempty"`
}

// HandlePhase reports the device's current phase. The request's auth
// state is relayed to the controller first, so this endpoint is also
// how the controller learns about identity changes it did not see
// happen (a token that expired, a cookie cleared in another tab).
//
// GET /api/session/phase
func (h *SessionHandler) HandlePhase(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := auth.DeviceIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "no device cookie",
		})
		return
	}
	c := h.sessions.Get(r.Context(), deviceID)

	if userID, signedIn := auth.UserIDFromContext(r.Context()); signedIn {
		user, err := h.users.GetUserByID(r.Context(), userID)
		if err != nil {
			// a stale token for a deleted account reads as signed out
			h.logger.Warn("phase: user lookup failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			c.OnIdentityChanged(r.Context(), "", "", false)
		} else {
			c.OnIdentityChanged(r.Context(), user.ID, user.Name, user.Confirmed())
		}
	} else {
		c.OnIdentityChanged(r.Context(), "", "", false)
	}

	writeJSON(w, http.StatusOK, phaseResponse{
		Phase:  c.Phase(),
		Notice: c.ConsumeNotice(),
	})
}

// HandleOnboarding marks the landing flow finished for this device and
// starts the timed intro.
//
// POST /api/session/onboarding
func (h *SessionHandler) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := auth.DeviceIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "no device cookie",
		})
		return
	}

	c := h.sessions.Get(r.Context(), deviceID)
	c.CompleteOnboarding(r.Context())
	writeJSON(w, http.StatusOK, phaseResponse{Phase: c.Phase()})
}
