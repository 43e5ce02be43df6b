package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/model"
	"github.com/anfal/wificards/internal/repository"
)

// userRepo implements repository.UserRepository over the shared
// connection pool. Get one from DB.Users.
type userRepo struct {
	conn *sql.DB
}

var _ repository.UserRepository = (*userRepo)(nil)

const userColumns = `id, email, name, password_hash, github_id, confirmed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var confirmedAt sql.NullTime
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.GitHubID,
		&confirmedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		u.ConfirmedAt = &confirmedAt.Time
	}
	return &u, nil
}

// Create inserts a new account. A UNIQUE violation on email maps to
// ErrConflict so sign-up can report "already registered" distinctly.
func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, github_id, confirmed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.GitHubID,
		user.ConfirmedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "email already registered")
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by internal ID.
func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := r.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpsertByGitHubID inserts on first OAuth sign-in and updates profile
// fields on later ones, keeping the internal ID stable. A user who
// previously signed in keeps their cards.
func (r *userRepo) UpsertByGitHubID(ctx context.Context, user *model.User) error {
	if user.GitHubID == 0 {
		return fmt.Errorf("sqlite: upsert requires a GitHub ID")
	}

	var existingID string
	err := r.conn.QueryRowContext(ctx,
		`SELECT id FROM users WHERE github_id = ?`, user.GitHubID,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", user.GitHubID, err)
	}

	if existingID != "" {
		user.ID = existingID
		user.UpdatedAt = time.Now()
		_, err = r.conn.ExecContext(ctx,
			`UPDATE users SET email = ?, name = ?, updated_at = ? WHERE id = ?`,
			user.Email, user.Name, user.UpdatedAt, user.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
		}
		// keep the stored confirmation timestamp authoritative
		stored, err := r.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		user.ConfirmedAt = stored.ConfirmedAt
		user.CreatedAt = stored.CreatedAt
		return nil
	}

	return r.Create(ctx, user)
}

// Update persists profile changes (name, password hash, email).
func (r *userRepo) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()

	result, err := r.conn.ExecContext(ctx,
		`UPDATE users SET email = ?, name = ?, password_hash = ?, updated_at = ?
		 WHERE id = ?`,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// SetConfirmed stamps the user's email as confirmed. Confirming twice
// keeps the first timestamp.
func (r *userRepo) SetConfirmed(ctx context.Context, id string) error {
	result, err := r.conn.ExecContext(ctx,
		`UPDATE users SET confirmed_at = COALESCE(confirmed_at, ?), updated_at = ?
		 WHERE id = ?`,
		time.Now(), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: confirming user %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// Delete removes the account. The cards cascade via the foreign key.
func (r *userRepo) Delete(ctx context.Context, id string) error {
	result, err := r.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// isUniqueViolation detects SQLite's UNIQUE constraint error. The pure
// Go driver exposes it only via the message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
