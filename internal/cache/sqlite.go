// Package cache keeps the last server-authoritative notification snapshot
// on disk so the pop-over has something to show before the first refresh
// of a session completes.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/warranty-notify/internal/model"
)

const (
	viewActive  = "active"
	viewHistory = "history"
)

// Entry is one cached snapshot.
type Entry struct {
	Active  []model.Notification
	History []model.Notification
	Unread  int
	SavedAt time.Time
}

// SQLiteCache stores snapshots in a local SQLite database.
type SQLiteCache struct {
	db *sqlx.DB
}

// NewSQLiteCache opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: the cache is tiny and :memory: databases are
	// per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	c := &SQLiteCache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (c *SQLiteCache) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := c.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Save replaces the snapshot stored for userID.
func (c *SQLiteCache) Save(
	ctx context.Context,
	userID string,
	active, history []model.Notification,
	unread int,
) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_items WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing snapshot items for %s: %w", userID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (user_id, unread, saved_at)
		VALUES (?, ?, ?)`,
		userID, unread, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot for %s: %w", userID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR IGNORE INTO snapshot_items (user_id, view, position, id, payload)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing item statement: %w", err)
	}
	defer stmt.Close()

	for view, items := range map[string][]model.Notification{
		viewActive:  active,
		viewHistory: history,
	} {
		for pos, n := range items {
			payload, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("marshaling notification %d: %w", n.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, userID, view, pos, n.ID, string(payload)); err != nil {
				return fmt.Errorf("saving notification %d: %w", n.ID, err)
			}
		}
	}

	return tx.Commit()
}

// snapshotRow maps the snapshots table.
type snapshotRow struct {
	UserID  string    `db:"user_id"`
	Unread  int       `db:"unread"`
	SavedAt time.Time `db:"saved_at"`
}

// itemRow maps the columns read back from snapshot_items.
type itemRow struct {
	View    string `db:"view"`
	Payload string `db:"payload"`
}

// Load returns the snapshot stored for userID. The boolean is false when
// nothing has been cached yet.
func (c *SQLiteCache) Load(ctx context.Context, userID string) (Entry, bool, error) {
	var snap snapshotRow
	err := c.db.GetContext(ctx, &snap,
		"SELECT user_id, unread, saved_at FROM snapshots WHERE user_id = ?", userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("loading snapshot for %s: %w", userID, err)
	}

	var rows []itemRow
	err = c.db.SelectContext(ctx, &rows, `
		SELECT view, payload FROM snapshot_items
		WHERE user_id = ?
		ORDER BY view, position`, userID)
	if err != nil {
		return Entry{}, false, fmt.Errorf("loading snapshot items for %s: %w", userID, err)
	}

	entry := Entry{Unread: snap.Unread, SavedAt: snap.SavedAt}
	for _, r := range rows {
		var n model.Notification
		if err := json.Unmarshal([]byte(r.Payload), &n); err != nil {
			return Entry{}, false, fmt.Errorf("decoding cached notification: %w", err)
		}
		switch r.View {
		case viewActive:
			entry.Active = append(entry.Active, n)
		case viewHistory:
			entry.History = append(entry.History, n)
		}
	}

	return entry, true, nil
}

// Delete removes the snapshot stored for userID.
func (c *SQLiteCache) Delete(ctx context.Context, userID string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM snapshots WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("deleting snapshot for %s: %w", userID, err)
	}
	return nil
}
