package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/xid"
)

// contextKey is an unexported type for context keys in this package,
// so no other package can read or shadow the values we store.
type contextKey string

const (
	userIDKey   contextKey = "userID"
	deviceIDKey contextKey = "deviceID"
)

// Cookie names. The access token lives in an HttpOnly cookie so
// page scripts can never read it; the device ID is a plain long-lived
// cookie identifying the browser across sign-ins.
const (
	TokenCookie  = "token"
	DeviceCookie = "device_id"
)

// RequireAuth enforces authentication on protected routes. It reads
// the JWT from the token cookie, validates it, and stores the userID in
// the request context. Missing or invalid token → 401, chain stopped.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth extracts the user identity when a valid token is
// present but never blocks the request. Used on routes like the
// session-phase endpoint that behave differently for signed-in users
// but must still answer anonymous ones.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := extractUserID(r, tokens); err == nil && userID != "" {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DeviceID assigns every browser a stable identifier cookie on first
// contact. The session-phase controller and the prefs store are keyed
// by it, which is how onboarding state survives sign-out — the flag
// belongs to the device, not the account.
func DeviceID(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(DeviceCookie); err == nil && c.Value != "" {
				id = c.Value
			} else {
				id = xid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     DeviceCookie,
					Value:    id,
					Path:     "/",
					Expires:  time.Now().Add(365 * 24 * time.Hour),
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), deviceIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID. Returns
// ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// DeviceIDFromContext retrieves the device identifier set by the
// DeviceID middleware.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceIDKey).(string)
	return id, ok && id != ""
}

// extractUserID reads the JWT cookie and validates it. Shared by
// RequireAuth and OptionalAuth.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(TokenCookie)
	if err != nil {
		return "", err
	}
	return tokens.ValidateAccess(cookie.Value)
}
