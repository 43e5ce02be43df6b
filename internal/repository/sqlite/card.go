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

// cardRepo implements repository.CardRepository over the shared
// connection pool. Get one from DB.Cards.
type cardRepo struct {
	conn *sql.DB
}

var _ repository.CardRepository = (*cardRepo)(nil)

const cardColumns = `id, user_id, title, ssid, password, security, qr_ref, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (*model.WifiCard, error) {
	var c model.WifiCard
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Title,
		&c.SSID,
		&c.Password,
		&c.Security,
		&c.QRRef,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new card. The (user_id, qr_ref) UNIQUE constraint
// is the storage-level backstop for the duplicate rule the service
// checks first; hitting it still maps to ErrConflict.
func (r *cardRepo) Create(ctx context.Context, card *model.WifiCard) error {
	card.ID = xid.New().String()
	now := time.Now()
	card.CreatedAt = now
	card.UpdatedAt = now

	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO wifi_cards (id, user_id, title, ssid, password, security, qr_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID,
		card.UserID,
		card.Title,
		card.SSID,
		card.Password,
		card.Security,
		card.QRRef,
		card.CreatedAt,
		card.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("card", "identical QR code already saved")
		}
		return fmt.Errorf("sqlite: creating card: %w", err)
	}
	return nil
}

// GetByID retrieves a single card.
func (r *cardRepo) GetByID(ctx context.Context, id string) (*model.WifiCard, error) {
	row := r.conn.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM wifi_cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("card", id)
		}
		return nil, fmt.Errorf("sqlite: getting card %s: %w", id, err)
	}
	return c, nil
}

// ListByUser returns all of one user's cards, newest first.
func (r *cardRepo) ListByUser(ctx context.Context, userID string) ([]model.WifiCard, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+cardColumns+`
		 FROM wifi_cards
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cards: %w", err)
	}
	defer rows.Close()

	cards := make([]model.WifiCard, 0, 10)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning card row: %w", err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cards: %w", err)
	}

	return cards, nil
}

// Update applies the patch to the caller's own card and returns the
// stored record. Only the fields set in the patch change; the WHERE
// clause scopes by owner so a foreign id reads as not-found.
func (r *cardRepo) Update(ctx context.Context, userID, id string, patch model.CardPatch) (*model.WifiCard, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.SSID != nil {
		sets = append(sets, "ssid = ?")
		args = append(args, *patch.SSID)
	}
	if patch.Password != nil {
		sets = append(sets, "password = ?")
		args = append(args, *patch.Password)
	}
	if patch.Security != nil {
		sets = append(sets, "security = ?")
		args = append(args, *patch.Security)
	}
	if patch.QRRef != nil {
		sets = append(sets, "qr_ref = ?")
		args = append(args, *patch.QRRef)
	}
	if len(sets) == 0 {
		return nil, apperror.ValidationFailed("patch", "no fields to update")
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id, userID)

	result, err := r.conn.ExecContext(ctx,
		`UPDATE wifi_cards SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`,
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("card", "identical QR code already saved")
		}
		return nil, fmt.Errorf("sqlite: updating card %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apperror.NotFound("card", id)
	}

	return r.GetByID(ctx, id)
}

// Delete removes one card if the caller owns it. Idempotent — an
// absent id is not an error.
func (r *cardRepo) Delete(ctx context.Context, userID, id string) error {
	_, err := r.conn.ExecContext(ctx,
		`DELETE FROM wifi_cards WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting card %s: %w", id, err)
	}
	return nil
}

// DeleteAllByUser removes every card the user owns. Idempotent.
func (r *cardRepo) DeleteAllByUser(ctx context.Context, userID string) error {
	_, err := r.conn.ExecContext(ctx,
		`DELETE FROM wifi_cards WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting cards for user %s: %w", userID, err)
	}
	return nil
}

// CountByUser returns how many cards the user has saved.
func (r *cardRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wifi_cards WHERE user_id = ?`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting cards for user %s: %w", userID, err)
	}
	return n, nil
}
