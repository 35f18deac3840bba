// Package storage provides the embedded SQLite document store backing the
// reference server.
//
// The database runs in embedded mode with WAL enabled so reads stay
// concurrent with the steady stream of autosave writes. Content is stored
// as an opaque string; the store never inspects it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/syncspace/syncspace/internal/docstore"
)

// ErrNotFound is returned when no document exists with the given id.
var ErrNotFound = errors.New("document not found")

// DB wraps the SQLite connection with document-store operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The parent directory is created if needed. If the database doesn't
// exist it is created; call InitSchema before first use. The caller MUST
// call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Close closes the database connection, checkpointing the WAL first.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the documents table if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertDocument inserts or updates a document by id.
//
// On update the original created_at is preserved; only title and content
// change. Concurrent writers race last-write-wins with no conflict
// detection, which is the store's documented consistency level.
func (db *DB) UpsertDocument(ctx context.Context, doc docstore.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id cannot be empty")
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
	INSERT INTO documents (id, title, content, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content
	`

	_, err := db.conn.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.Content,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument fetches a document by id. Returns ErrNotFound if absent.
func (db *DB) GetDocument(ctx context.Context, id string) (docstore.Document, error) {
	query := `SELECT id, title, content, created_at FROM documents WHERE id = ?`

	var doc docstore.Document
	var createdAt string
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.Title, &doc.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	doc.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("document %s is corrupt: %w", id, err)
	}
	return doc, nil
}

// DocumentExists reports whether a document with the given id exists.
func (db *DB) DocumentExists(ctx context.Context, id string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check document %s: %w", id, err)
	}
	return count > 0, nil
}

// ListDocuments returns all documents, newest first.
func (db *DB) ListDocuments(ctx context.Context) ([]docstore.Document, error) {
	query := `SELECT id, title, content, created_at FROM documents ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var doc docstore.Document
		var createdAt string
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		if doc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("document %s is corrupt: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document by id. Returns nil if the document
// doesn't exist (idempotent).
func (db *DB) DeleteDocument(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// DocumentCount returns the number of stored documents.
func (db *DB) DocumentCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid created_at %q: %w", s, err)
	}
	return t, nil
}
