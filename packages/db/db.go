// Package db persists session cookies in SQLite so a named session can be
// resumed by a later hitclient invocation.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS cookies (
	session  TEXT    NOT NULL,
	name     TEXT    NOT NULL,
	value    TEXT    NOT NULL,
	domain   TEXT    NOT NULL,
	path     TEXT    NOT NULL,
	secure   INTEGER NOT NULL DEFAULT 0,
	saved_at INTEGER NOT NULL,
	PRIMARY KEY (session, domain, path, name)
)`

// Store is a cookie store backed by a SQLite database
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Open opens (creating if needed) the cookie database at connectionString.
// Accepted forms are a plain file path, sqlite:path and sqlite://path.
func Open(connectionString string) (*Store, error) {
	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, queryTimeout: 30 * time.Second}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the cookies stored for session. Cookies without a domain
// cannot be restored into a jar and are skipped.
func (s *Store) Save(session string, cookies []*http.Cookie) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cookies WHERE session = ?`, session); err != nil {
		return fmt.Errorf("clearing session %q: %w", session, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO cookies (session, name, value, domain, path, secure, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, c := range cookies {
		if c == nil || c.Domain == "" {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		if _, err := stmt.ExecContext(ctx, session, c.Name, c.Value, c.Domain, path, c.Secure, now); err != nil {
			return fmt.Errorf("saving cookie %q: %w", c.Name, err)
		}
	}

	return tx.Commit()
}

// Load returns the cookies stored for session, ordered by domain, path and name.
// An unknown session yields no cookies.
func (s *Store) Load(session string) ([]*http.Cookie, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, domain, path, secure FROM cookies
		WHERE session = ? ORDER BY domain, path, name`, session)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var cookies []*http.Cookie
	for rows.Next() {
		c := &http.Cookie{}
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &c.Secure); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cookies = append(cookies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return cookies, nil
}

// Delete removes every cookie stored for session.
func (s *Store) Delete(session string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cookies WHERE session = ?`, session); err != nil {
		return fmt.Errorf("deleting session %q: %w", session, err)
	}
	return nil
}

// Sessions lists the names of the stored sessions.
func (s *Store) Sessions() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session FROM cookies ORDER BY session`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// parseConnectionString strips the sqlite scheme prefixes.
// Supported formats:
// - sqlite://path/to/db.sqlite
// - sqlite:./test.db
// - path/to/db.sqlite
func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)

	switch {
	case strings.HasPrefix(connStr, "sqlite://"):
		connStr = strings.TrimPrefix(connStr, "sqlite://")
	case strings.HasPrefix(connStr, "sqlite:"):
		connStr = strings.TrimPrefix(connStr, "sqlite:")
	case strings.Contains(connStr, "://"):
		return "", fmt.Errorf("unsupported database scheme: %s", connStr[:strings.Index(connStr, "://")])
	}

	if connStr == "" {
		return "", fmt.Errorf("empty database path")
	}
	return connStr, nil
}
