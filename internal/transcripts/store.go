package transcripts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by another schema version.
var ErrSchemaMismatch = errors.New("transcripts: schema version mismatch")

// Entry is one stored caption.
type Entry struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"sessionId"`
	Seq            uint64    `json:"seq"`
	ReceivedAt     time.Time `json:"receivedAt"`
	SpokenAt       time.Time `json:"spokenAt,omitzero"`
	Model          string    `json:"model,omitempty"`
	SourceLanguage string    `json:"sourceLanguage,omitempty"`
	Text           string    `json:"text"`
}

// Store manages the caption journal backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Insert stores entry and returns its identifier.
func (s *Store) Insert(ctx context.Context, entry Entry) (int64, error) {
	if strings.TrimSpace(entry.Text) == "" {
		return 0, errors.New("transcript text is empty")
	}
	received := entry.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (
            session_id, seq, received_at, spoken_at, model, source_language, text
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		int64(entry.Seq),
		received.UTC().Format(time.RFC3339Nano),
		nullableTime(entry.SpokenAt),
		nullableString(entry.Model),
		nullableString(entry.SourceLanguage),
		entry.Text,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first. A non-empty session
// restricts results to that daemon run.
func (s *Store) Recent(ctx context.Context, limit int, session string) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_id, seq, received_at, spoken_at, model, source_language, text
        FROM transcripts`
	args := []any{}
	if session != "" {
		query += " WHERE session_id = ?"
		args = append(args, session)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM transcripts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return count, nil
}

// Prune deletes entries received before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM transcripts WHERE received_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune transcripts: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry    Entry
		seq      int64
		received string
		spoken   sql.NullString
		model    sql.NullString
		lang     sql.NullString
	)
	if err := row.Scan(&entry.ID, &entry.SessionID, &seq, &received, &spoken, &model, &lang, &entry.Text); err != nil {
		return Entry{}, fmt.Errorf("scan transcript: %w", err)
	}
	entry.Seq = uint64(seq)
	entry.Model = model.String
	entry.SourceLanguage = lang.String
	if ts, err := time.Parse(time.RFC3339Nano, received); err == nil {
		entry.ReceivedAt = ts
	}
	if spoken.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, spoken.String); err == nil {
			entry.SpokenAt = ts
		}
	}
	return entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
