package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/repository"
)

// prefsRepo implements repository.PrefsRepository over the shared
// connection pool. Get one from DB.Prefs.
type prefsRepo struct {
	conn *sql.DB
}

var _ repository.PrefsRepository = (*prefsRepo)(nil)

// Get returns the stored value for (scope, key). Missing keys return
// ErrNotFound; callers that treat absence as a default check for it.
func (r *prefsRepo) Get(ctx context.Context, scope, key string) (string, error) {
	var value string
	err := r.conn.QueryRowContext(ctx,
		`SELECT value FROM prefs WHERE scope = ? AND key = ?`, scope, key,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperror.NotFound("pref", scope+"/"+key)
		}
		return "", fmt.Errorf("sqlite: getting pref %s/%s: %w", scope, key, err)
	}
	return value, nil
}

// Set writes (scope, key) → value, overwriting any previous value.
func (r *prefsRepo) Set(ctx context.Context, scope, key, value string) error {
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO prefs (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope, key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting pref %s/%s: %w", scope, key, err)
	}
	return nil
}

// Delete removes a key. Idempotent.
func (r *prefsRepo) Delete(ctx context.Context, scope, key string) error {
	_, err := r.conn.ExecContext(ctx,
		`DELETE FROM prefs WHERE scope = ? AND key = ?`, scope, key)
	if err != nil {
		return fmt.Errorf("sqlite: deleting pref %s/%s: %w", scope, key, err)
	}
	return nil
}
