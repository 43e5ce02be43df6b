package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/auth"
	"github.com/anfal/wificards/internal/mailer"
	"github.com/anfal/wificards/internal/model"
	"github.com/anfal/wificards/internal/repository"
)

const MinPasswordLength = 8

// AuthService handles sign-up, sign-in, email confirmation, and
// account management. It issues JWTs via the token service and hands
// confirmation links to the mailer; it never touches HTTP itself.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mail      mailer.Mailer
	baseURL   string
	logger    *slog.Logger
}

// NewAuthService creates an AuthService. baseURL is the externally
// reachable origin used to build confirmation links.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mail mailer.Mailer,
	baseURL string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		mail:      mail,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// AuthResult bundles the user record and the issued access token so
// the handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// SignUp registers an email/password account. The account starts
// unconfirmed; a purpose-scoped confirmation token goes out via the
// mailer. The user is signed in right away, the verify-email gate
// keeps them from saving cards until they confirm.
func (s *AuthService) SignUp(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		// Default to the local part, same as the OAuth fallback to
		// the GitHub login.
		name = email[:strings.IndexByte(email, '@')]
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up",
		slog.String("userID", user.ID),
		slog.String("email", email),
	)

	s.sendConfirmation(ctx, user)

	token, err := s.tokens.GenerateAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// SignIn authenticates an email/password account. Unknown email, an
// OAuth-only account, and a wrong password all produce the same
// "invalid email or password" so callers cannot probe which addresses
// are registered. Store failures stay distinguishable.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid email or password")
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		// OAuth account with no password set.
		return nil, apperror.Unauthorized("invalid email or password")
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("invalid email or password")
	}

	token, err := s.tokens.GenerateAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	s.logger.Info("user signed in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// Confirm validates a confirmation token and marks the account's email
// as verified. Confirming an already confirmed account keeps the
// original timestamp.
func (s *AuthService) Confirm(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.ValidateConfirmation(token)
	if err != nil {
		return nil, apperror.Unauthorized("confirmation link is invalid or expired")
	}

	if err := s.users.SetConfirmed(ctx, userID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("email confirmed", slog.String("userID", userID))
	return user, nil
}

// ResendConfirmation re-sends the confirmation mail. Unknown and
// already-confirmed addresses return success without sending anything,
// so the endpoint reveals nothing about which accounts exist.
func (s *AuthService) ResendConfirmation(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("confirmation resend for unknown email")
			return nil
		}
		return err
	}
	if user.Confirmed() {
		return nil
	}

	s.sendConfirmation(ctx, user)
	return nil
}

// sendConfirmation issues a confirmation token and hands the link to
// the mailer. Delivery failure is logged, not returned: the account
// exists either way and the user can ask for a resend.
func (s *AuthService) sendConfirmation(ctx context.Context, user *model.User) {
	token, err := s.tokens.GenerateConfirmation(user.ID)
	if err != nil {
		s.logger.Error("generating confirmation token",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	confirmURL := s.baseURL + "/auth/confirm?token=" + url.QueryEscape(token)
	if err := s.mail.SendConfirmation(ctx, user.Email, user.Name, confirmURL); err != nil {
		s.logger.Error("sending confirmation mail",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetUserByID returns the account for an internal ID. Used after the
// middleware validates the access token.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("not signed in")
	}
	return s.users.GetByID(ctx, id)
}

// UpdateProfile changes the display name and/or password. Nil means
// leave unchanged; at least one field must be set.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, name, password *string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("not signed in")
	}
	if name == nil && password == nil {
		return nil, apperror.ValidationFailed("patch", "no fields to update")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, apperror.ValidationFailed("name", "name is required")
		}
		user.Name = n
	}
	if password != nil {
		if err := validatePassword(*password); err != nil {
			return nil, err
		}
		hash, err := s.passwords.Hash(*password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("profile updated", slog.String("userID", userID))
	return user, nil
}

// DeleteAccount removes the user; their cards go with them via the
// foreign key cascade.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return apperror.Unauthorized("not signed in")
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", slog.String("userID", userID))
	return nil
}

// LoginOrRegisterGitHub handles the OAuth callback: upsert by GitHub
// ID so the internal ID stays stable across sign-ins, then issue an
// access token. OAuth accounts are confirmed immediately, GitHub has
// already verified the address.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("GitHub user must not be nil")
	}

	name := ghUser.Name
	if name == "" {
		name = ghUser.Login
	}

	now := time.Now()
	user := &model.User{
		GitHubID:    ghUser.ID,
		Email:       strings.ToLower(ghUser.Email),
		Name:        name,
		ConfirmedAt: &now,
	}
	if err := s.users.UpsertByGitHubID(ctx, user); err != nil {
		return nil, fmt.Errorf("upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	token, err := s.tokens.GenerateAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.Int64("githubID", ghUser.ID),
	)
	return &AuthResult{User: user, Token: token}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperror.ValidationFailed("email", "email address is invalid")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > 72 {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}
	return nil
}
