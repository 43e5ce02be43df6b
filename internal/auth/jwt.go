// Package auth provides JWT tokens, bcrypt password hashing, the
// GitHub OAuth flow, and the request middleware that gates the API.
//
// Two kinds of token are issued, distinguished by a "purpose" claim:
//
//   - access tokens, stored in an HttpOnly cookie, identify the
//     signed-in user on API calls
//   - confirmation tokens, embedded in the emailed link, prove control
//     of an address exactly once
//
// The purpose claim stops a confirmation link from doubling as a login:
// a token minted for one use is rejected everywhere else.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "wificards"

// Token purposes. Validation requires an exact match.
const (
	purposeAccess  = "access"
	purposeConfirm = "confirm-email"
)

// TokenService creates and validates the signed tokens. It holds the
// HMAC secret — the same secret signs and verifies, so it must never
// leave the server.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	confirmTTL time.Duration
}

// NewTokenService creates a TokenService. The secret should be at
// least 32 bytes of random data in production
// (JWT_SECRET=$(openssl rand -hex 32)).
func NewTokenService(secret string, accessTTL, confirmTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	if confirmTTL <= 0 {
		confirmTTL = 48 * time.Hour
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		confirmTTL: confirmTTL,
	}, nil
}

// claims is the JWT payload: the standard registered claims (Subject
// carries the user ID) plus our purpose discriminator.
type claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (s *TokenService) generate(userID, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// GenerateAccess creates a signed access token for the given user.
func (s *TokenService) GenerateAccess(userID string) (string, error) {
	return s.generate(userID, purposeAccess, s.accessTTL)
}

// GenerateConfirmation creates the token embedded in the confirmation
// link mailed to a new account.
func (s *TokenService) GenerateConfirmation(userID string) (string, error) {
	return s.generate(userID, purposeConfirm, s.confirmTTL)
}

func (s *TokenService) validate(tokenStr, purpose string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Purpose != purpose {
		return "", fmt.Errorf("auth: token purpose %q not valid here", c.Purpose)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}

// ValidateAccess verifies an access token and returns the user ID it
// carries.
func (s *TokenService) ValidateAccess(tokenStr string) (string, error) {
	return s.validate(tokenStr, purposeAccess)
}

// ValidateConfirmation verifies a confirmation-link token and returns
// the user ID it was minted for.
func (s *TokenService) ValidateConfirmation(tokenStr string) (string, error) {
	return s.validate(tokenStr, purposeConfirm)
}
