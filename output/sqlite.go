package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/use-agent/harvest/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	locator    TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	body       TEXT NOT NULL,
	scraped_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_key ON entries (key);
`

// SQLiteSink stores entries as rows; the full entry is kept as JSON in body.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path with full synchronous
// commits.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeOutputIO, "open sqlite output", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, models.NewHarvestError(models.ErrCodeOutputIO, "prepare sqlite output", err)
		}
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, e *models.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (key, target_id, locator, kind, status, body, scraped_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Target.ID.String(), e.Target.Locator, e.Kind, string(e.Status), string(body),
		e.ScrapedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteSink) Walk(ctx context.Context, fn func(models.Entry) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM entries ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		var e models.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteSink) Last(ctx context.Context) (*models.Entry, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM entries ORDER BY seq DESC LIMIT 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e models.Entry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("decode last entry: %w", err)
	}
	return &e, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
