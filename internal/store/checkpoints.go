package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const ddlCheckpoints = `CREATE TABLE IF NOT EXISTS checkpoints (
	key        TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// Checkpoints is a SQLite-backed memo of finished model calls, keyed by a
// hash of stage, model and prompt.
type Checkpoints struct {
	db  *sql.DB
	now func() time.Time
}

// OpenCheckpoints opens or creates the database at path.
func OpenCheckpoints(path string) (*Checkpoints, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: open: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent map workers.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		ddlCheckpoints,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("checkpoints: %s: %w", stmt, err)
		}
	}
	return &Checkpoints{db: db, now: time.Now}, nil
}

func (c *Checkpoints) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checkpoints: get: %w", err)
	}
	return v, true, nil
}

func (c *Checkpoints) Put(ctx context.Context, key, stage, value string) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO checkpoints (key, stage, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		key, stage, value, c.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("checkpoints: put: %w", err)
	}
	return nil
}

// Counts returns the number of memoized calls per stage.
func (c *Checkpoints) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM checkpoints GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: counts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("checkpoints: counts: %w", err)
		}
		out[stage] = n
	}
	return out, rows.Err()
}

// Clear deletes all entries.
func (c *Checkpoints) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM checkpoints`); err != nil {
		return fmt.Errorf("checkpoints: clear: %w", err)
	}
	return nil
}

func (c *Checkpoints) Close() error {
	return c.db.Close()
}
