package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/abisig/internal/abisig"
	"github.com/gateway-fm/abisig/pkg/types"
)

// SQLiteStorage implements Storage and SourceStorage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signatures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		selector TEXT NOT NULL,
		signature TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'function',
		source TEXT,
		first_seen DATETIME NOT NULL,
		UNIQUE (selector, signature, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_signatures_selector ON signatures(selector);
	CREATE INDEX IF NOT EXISTS idx_signatures_signature ON signatures(signature);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		scanned_at DATETIME NOT NULL,
		entries INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		error_message TEXT
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema version
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"signatures", "topic", "ALTER TABLE signatures ADD COLUMN topic TEXT"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.ddl); err != nil {
				// Log but don't fail - migration might have already been applied
				slog.Warn("migration failed",
					slog.String("table", m.table),
					slog.String("column", m.column),
					slog.String("error", err.Error()))
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
// Note: table and column names are validated to prevent SQL injection.
// SQLite identifiers only allow alphanumeric chars and underscore.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier checks if a string is a valid SQLite identifier.
// Only allows alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveSignatures inserts derived entries. Signatures already present keep
// their original source and first_seen time.
func (s *SQLiteStorage) SaveSignatures(ctx context.Context, source string, entries []types.Derived) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO signatures (selector, signature, name, kind, topic, source, first_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, strings.ToLower(e.Selector), e.Signature, e.Name, string(e.Kind),
			nullString(e.Topic), nullString(source), now)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.Signature, err)
		}
	}

	return tx.Commit()
}

// LookupSelector returns every signature stored under selector. The selector
// may be given with or without the 0x prefix.
func (s *SQLiteStorage) LookupSelector(ctx context.Context, selector string) ([]SignatureRecord, error) {
	sel, err := abisig.ParseSelector(selector)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT selector, signature, name, kind, topic, source, first_seen
		FROM signatures
		WHERE selector = ?
		ORDER BY signature, kind
	`, sel.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSignatures(rows)
}

// SearchSignatures returns signatures containing query, case-insensitive.
// An empty query lists everything.
func (s *SQLiteStorage) SearchSignatures(ctx context.Context, query string, limit, offset int) (*PaginatedSignatures, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signatures WHERE LOWER(signature) LIKE ? ESCAPE '\'`, pattern).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT selector, signature, name, kind, topic, source, first_seen
		FROM signatures
		WHERE LOWER(signature) LIKE ? ESCAPE '\'
		ORDER BY signature, kind
		LIMIT ? OFFSET ?
	`, pattern, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanSignatures(rows)
	if err != nil {
		return nil, err
	}

	return &PaginatedSignatures{
		Signatures: records,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// Collisions returns selectors shared by more than one distinct signature.
// Events are excluded: their identity is the full 32-byte topic.
func (s *SQLiteStorage) Collisions(ctx context.Context) ([]Collision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT selector, signature
		FROM signatures
		WHERE kind != 'event' AND selector IN (
			SELECT selector FROM signatures
			WHERE kind != 'event'
			GROUP BY selector
			HAVING COUNT(DISTINCT signature) > 1
		)
		GROUP BY selector, signature
		ORDER BY selector, signature
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collisions []Collision
	for rows.Next() {
		var sel, sig string
		if err := rows.Scan(&sel, &sig); err != nil {
			return nil, err
		}
		if n := len(collisions); n > 0 && collisions[n-1].Selector == sel {
			collisions[n-1].Signatures = append(collisions[n-1].Signatures, sig)
			continue
		}
		collisions = append(collisions, Collision{Selector: sel, Signatures: []string{sig}})
	}
	return collisions, rows.Err()
}

// Stats returns directory counts.
func (s *SQLiteStorage) Stats(ctx context.Context) (*StoreStats, error) {
	var stats StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM signatures),
			(SELECT COUNT(DISTINCT selector) FROM signatures),
			(SELECT COUNT(*) FROM (
				SELECT selector FROM signatures
				WHERE kind != 'event'
				GROUP BY selector
				HAVING COUNT(DISTINCT signature) > 1
			)),
			(SELECT COUNT(*) FROM sources)
	`).Scan(&stats.Signatures, &stats.Selectors, &stats.Collisions, &stats.Sources)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// SaveSource records the latest scan result for an artifact path.
func (s *SQLiteStorage) SaveSource(ctx context.Context, src SourceRecord) error {
	scannedAt := src.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (path, scanned_at, entries, errors, error_message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			scanned_at = excluded.scanned_at,
			entries = excluded.entries,
			errors = excluded.errors,
			error_message = excluded.error_message
	`, src.Path, scannedAt, src.Entries, src.Errors, nullString(src.Error))
	return err
}

// ListSources returns recorded sources ordered by path.
func (s *SQLiteStorage) ListSources(ctx context.Context, limit, offset int) (*PaginatedSources, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, scanned_at, entries, errors, error_message
		FROM sources
		ORDER BY path
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []SourceRecord
	for rows.Next() {
		var (
			src    SourceRecord
			errMsg sql.NullString
		)
		if err := rows.Scan(&src.Path, &src.ScannedAt, &src.Entries, &src.Errors, &errMsg); err != nil {
			return nil, err
		}
		src.Error = errMsg.String
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedSources{
		Sources: sources,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

func scanSignatures(rows *sql.Rows) ([]SignatureRecord, error) {
	var records []SignatureRecord
	for rows.Next() {
		var (
			r      SignatureRecord
			kind   string
			topic  sql.NullString
			source sql.NullString
		)
		if err := rows.Scan(&r.Selector, &r.Signature, &r.Name, &kind, &topic, &source, &r.FirstSeen); err != nil {
			return nil, err
		}
		r.Kind = types.EntryKind(kind)
		r.Topic = topic.String
		r.Source = source.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
