package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		session_id   TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		conversation TEXT NOT NULL DEFAULT '',
		created_at   BIGINT NOT NULL,
		last_updated BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(last_updated)`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id    TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, key)
	)`,
}

// SQLStore is a Store on SQLite or PostgreSQL. Transcript appends are a
// single upsert that concatenates in the database, and profile merges
// upsert one row per key inside a transaction, so concurrent writers
// to the same session or user never lose updates.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewSQLStore(db, DialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewSQLStore(db, DialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and creates the schema. The store
// takes ownership of db.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if dialect == DialectSQLite {
		// SQLite has one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Transcript implements Store.
func (s *SQLStore) Transcript(ctx context.Context, sessionID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT conversation FROM conversations WHERE session_id = ?`),
		sessionID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", sessionID, err)
	}
	return text, nil
}

// AppendTranscript implements Store.
func (s *SQLStore) AppendTranscript(ctx context.Context, sessionID, userID, text string) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (session_id, user_id, conversation, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			conversation = conversations.conversation || excluded.conversation,
			last_updated = excluded.last_updated
	`), sessionID, userID, text, now, now)
	if err != nil {
		return fmt.Errorf("append transcript %s: %w", sessionID, err)
	}
	return nil
}

// Profile implements Store.
func (s *SQLStore) Profile(ctx context.Context, userID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT key, value FROM user_profiles WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", userID, err)
	}
	defer rows.Close()

	profile := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		profile[key] = v
	}
	return profile, rows.Err()
}

// MergeProfile implements Store.
func (s *SQLStore) MergeProfile(ctx context.Context, userID string, info map[string]any) error {
	if len(info) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO user_profiles (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`))
	if err != nil {
		return fmt.Errorf("prepare profile upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixMilli()
	for k, v := range info {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode profile key %q: %w", k, err)
		}
		if _, err := stmt.ExecContext(ctx, userID, k, string(raw), now); err != nil {
			return fmt.Errorf("upsert profile key %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// ListSessions implements Store.
func (s *SQLStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, conversation, last_updated
		FROM conversations
		ORDER BY last_updated DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var text string
		var updated int64
		if err := rows.Scan(&info.SessionID, &info.UserID, &text, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.Title = Title(text)
		info.LastUpdated = time.UnixMilli(updated).UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

// DeleteSession implements Store.
func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM conversations WHERE session_id = ?`), sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks that the database answers.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
