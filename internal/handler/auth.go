package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/anfal/wificards/internal/auth"
	"github.com/anfal/wificards/internal/service"
	"github.com/anfal/wificards/internal/session"
)

const oauthStateCookie = "oauth_state"

// AuthHandler manages sign-up/sign-in, email confirmation, the GitHub
// OAuth flow, and the account endpoints. It owns the token cookie and
// tells the session manager whenever the identity behind a device
// changes, so the phase controller stays in step with auth state.
type AuthHandler struct {
	svc      *service.AuthService
	cards    *service.CardService
	sessions *session.Manager
	github   *auth.GitHubProvider // nil when OAuth is not configured
	metrics  Metrics

	cookieSecure bool
	tokenTTL     time.Duration
	logger       *slog.Logger
}

func NewAuthHandler(
	svc *service.AuthService,
	cards *service.CardService,
	sessions *session.Manager,
	github *auth.GitHubProvider,
	metrics Metrics,
	cookieSecure bool,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		cards:        cards,
		sessions:     sessions,
		github:       github,
		metrics:      metrics,
		cookieSecure: cookieSecure,
		tokenTTL:     tokenTTL,
		logger:       logger,
	}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignUp registers an email/password account and signs it in.
// The response says whether a confirmation mail went out so the
// frontend can show the "check your inbox" hint.
//
// POST /auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	h.broadcastIdentity(r, result)
	if h.metrics != nil {
		h.metrics.RecordSignup()
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":             result.User,
		"confirmationSent": true,
	})
}

// HandleSignIn authenticates an email/password account.
//
// POST /auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	h.broadcastIdentity(r, result)
	writeJSON(w, http.StatusOK, map[string]any{"user": result.User})
}

// HandleSignOut clears the token cookie and drops the caller's card
// cache so the next sign-in fetches fresh. Stateless JWTs stay valid
// until expiry; without the cookie the browser can't send one.
//
// POST /auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		h.cards.Invalidate(userID)
	}
	h.clearTokenCookie(w)

	if deviceID, ok := auth.DeviceIDFromContext(r.Context()); ok {
		h.sessions.Broadcast(r.Context(), deviceID, "", "", false)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleConfirm completes email confirmation from the mailed link.
// Accepts the token as a query parameter (the link itself) or a JSON
// body (the frontend relaying it).
//
// POST /auth/confirm
func (h *AuthHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var req struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		token = req.Token
	}

	user, err := h.svc.Confirm(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	if deviceID, ok := auth.DeviceIDFromContext(r.Context()); ok {
		h.sessions.Broadcast(r.Context(), deviceID, user.ID, user.Name, true)
	}
	if h.metrics != nil {
		h.metrics.RecordEmailConfirmed()
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleResend re-sends the confirmation mail. Always 200 on a
// well-formed address, whatever account state it names.
//
// POST /auth/resend
func (h *AuthHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.ResendConfirmation(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "confirmation sent if the account needs one"})
}

// HandleMe returns the signed-in user's profile.
//
// GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleUpdateMe changes the display name and/or password.
//
// PATCH /api/me
func (h *AuthHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		Name     *string `json:"name"`
		Password *string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), userID, req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// HandleDeleteMe deletes the account and everything scoped to it.
//
// DELETE /api/me
func (h *AuthHandler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.svc.DeleteAccount(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	h.cards.Invalidate(userID)
	h.clearTokenCookie(w)

	if deviceID, ok := auth.DeviceIDFromContext(r.Context()); ok {
		h.sessions.Broadcast(r.Context(), deviceID, "", "", false)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization
// page. The random state lands in a short-lived cookie and is checked
// on callback, which ties the callback to this browser.
//
// GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "not_configured",
			Message: "GitHub sign-in is not configured",
		})
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow: state check, code
// exchange, upsert, token cookie, redirect into the app.
//
// GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		http.NotFound(w, r)
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	// single use
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth callback: authorization denied", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	result, err := h.svc.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("oauth callback: login failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	h.setTokenCookie(w, result.Token)
	h.broadcastIdentity(r, result)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// broadcastIdentity forwards a fresh sign-in to the device's phase
// controller, if the request carries a device cookie.
func (h *AuthHandler) broadcastIdentity(r *http.Request, result *service.AuthResult) {
	deviceID, ok := auth.DeviceIDFromContext(r.Context())
	if !ok {
		return
	}
	h.sessions.Broadcast(r.Context(), deviceID,
		result.User.ID, result.User.Name, result.User.Confirmed())
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
