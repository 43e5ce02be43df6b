// Package sqlite implements the repository interfaces on SQLite.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which needs a C compiler and makes
// cross-compilation painful. modernc.org/sqlite is a pure Go
// translation of SQLite — works everywhere Go works.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anfal/wificards/internal/repository"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB owns the sql.DB connection pool and hands out the typed
// repositories that share it.
type DB struct {
	conn *sql.DB

	users *userRepo
	cards *cardRepo
	prefs *prefsRepo
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" in tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Surface a bad path or permissions problem now, not on the
	// first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets reads proceed while a write is in flight — a web
	// server hits the DB from many requests at once.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are off by default in SQLite; cards reference
	// users, so turn them on.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{
		conn:  conn,
		users: &userRepo{conn: conn},
		cards: &cardRepo{conn: conn},
		prefs: &prefsRepo{conn: conn},
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Users returns the account repository.
func (db *DB) Users() repository.UserRepository { return db.users }

// Cards returns the saved-card repository.
func (db *DB) Cards() repository.CardRepository { return db.cards }

// Prefs returns the key/value preference repository.
func (db *DB) Prefs() repository.PrefsRepository { return db.prefs }

// Close closes the connection pool. Wherever New() is called,
// immediately defer Close().
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is still reachable, for health checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it safe
// to run on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			github_id     INTEGER NOT NULL DEFAULT 0,
			confirmed_at  DATETIME,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_github_id
			ON users(github_id) WHERE github_id != 0;
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// qr_ref is unique per owner — the duplicate-card rule, enforced
	// in the service before the INSERT and again here as a backstop.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS wifi_cards (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title      TEXT NOT NULL,
			ssid       TEXT NOT NULL DEFAULT '',
			password   TEXT NOT NULL DEFAULT '',
			security   TEXT NOT NULL DEFAULT 'nopass',
			qr_ref     TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, qr_ref)
		);
		CREATE INDEX IF NOT EXISTS idx_wifi_cards_user_created
			ON wifi_cards(user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating wifi_cards table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS prefs (
			scope      TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating prefs table: %w", err)
	}

	return nil
}
