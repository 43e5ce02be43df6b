// Package repository declares the storage interfaces the service layer
// programs against. The sqlite subpackage is the shipped
// implementation; tests substitute in-memory mocks.
package repository

import (
	"context"

	"github.com/anfal/wificards/internal/model"
)

// UserRepository manages account records.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpsertByGitHubID keeps the internal ID stable across repeat
	// OAuth sign-ins; first sign-in inserts.
	UpsertByGitHubID(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	SetConfirmed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// CardRepository manages saved WiFi cards. All reads and writes are
// scoped by owner — a user can never see or touch another user's rows.
type CardRepository interface {
	Create(ctx context.Context, card *model.WifiCard) error
	GetByID(ctx context.Context, id string) (*model.WifiCard, error)
	// ListByUser returns the user's cards newest-first.
	ListByUser(ctx context.Context, userID string) ([]model.WifiCard, error)
	// Update applies a field patch and returns the canonical stored
	// record, server-computed fields included.
	Update(ctx context.Context, userID, id string, patch model.CardPatch) (*model.WifiCard, error)
	// Delete is idempotent: deleting an absent id is not an error.
	Delete(ctx context.Context, userID, id string) error
	DeleteAllByUser(ctx context.Context, userID string) error
	CountByUser(ctx context.Context, userID string) (int, error)
}

// PrefsRepository is the small key/value store behind device- and
// user-scoped persisted state: the onboarding flag, the one-shot
// welcome flags, theme/language, and the unsaved-card snapshot.
type PrefsRepository interface {
	Get(ctx context.Context, scope, key string) (string, error)
	Set(ctx context.Context, scope, key, value string) error
	Delete(ctx context.Context, scope, key string) error
}
