package bundle

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// index mirrors the in-memory key table to SQLite so bundles survive restarts.
type index struct {
	db *sql.DB
}

func openIndex(ctx context.Context, path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &index{db: db}, nil
}

// openIndexReadOnly opens an existing index without creating or migrating
// it. A missing database yields a nil index.
func openIndexReadOnly(ctx context.Context, path string) (*index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat sqlite db: %w", err)
	}
	dsn := (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

func (ix *index) lookup(ctx context.Context, key string) (Entry, bool, error) {
	if ix == nil {
		return Entry{}, false, nil
	}
	var (
		entry   Entry
		created string
	)
	err := retryOnBusy(ctx, func() error {
		return ix.db.QueryRowContext(ctx,
			`SELECT key, template_name, path, created_at FROM bundles WHERE key = ?`, key,
		).Scan(&entry.Key, &entry.TemplateName, &entry.Path, &created)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup bundle %s: %w", key, err)
	}
	entry.CreatedAt = parseTime(created)
	return entry, true, nil
}

func (ix *index) put(ctx context.Context, entry Entry) error {
	if ix == nil {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		_, err := ix.db.ExecContext(ctx,
			`INSERT INTO bundles (key, template_name, path, created_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(key) DO UPDATE SET template_name = excluded.template_name,
                 path = excluded.path, created_at = excluded.created_at`,
			entry.Key, entry.TemplateName, entry.Path, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

func (ix *index) remove(ctx context.Context, key string) error {
	if ix == nil {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		_, err := ix.db.ExecContext(ctx, `DELETE FROM bundles WHERE key = ?`, key)
		return err
	})
}

func (ix *index) list(ctx context.Context) ([]Entry, error) {
	if ix == nil {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT key, template_name, path, created_at FROM bundles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			created string
		)
		if err := rows.Scan(&entry.Key, &entry.TemplateName, &entry.Path, &created); err != nil {
			return nil, fmt.Errorf("scan bundle row: %w", err)
		}
		entry.CreatedAt = parseTime(created)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries op with exponential backoff while SQLite reports a
// locked database. Other processes may share the cache root.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
