package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/assistd/internal/vectorstore/migrations"
)

// SQLiteBackend stores chunks in a single SQLite database file.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (creating if needed) chunks.db under dir.
// dir ":memory:" opens a private in-memory database.
func NewSQLiteBackend(dir string) (*SQLiteBackend, error) {
	var dsn, dbPath string
	if dir == ":memory:" {
		dbPath = dir
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	} else {
		expanded, err := expandPath(dir)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expanded, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath = filepath.Join(expanded, "chunks.db")
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	b := &SQLiteBackend{db: db, path: dbPath}
	if err := b.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return b, nil
}

// Path returns the database file path.
func (b *SQLiteBackend) Path() string { return b.path }

// migrate runs all pending migrations.
func (b *SQLiteBackend) migrate(fsys fs.FS) error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := b.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := b.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := b.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Insert implements Backend. All rows are written in one transaction.
func (b *SQLiteBackend) Insert(ctx context.Context, tenantID string, chunks []Chunk) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (tenant_id, document_id, content, embedding) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err = stmt.ExecContext(ctx, tenantID, c.DocumentID, c.Content, encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Chunks implements Backend.
func (b *SQLiteBackend) Chunks(ctx context.Context, tenantID string) ([]Chunk, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT id, document_id, content, embedding FROM chunks WHERE tenant_id = ? ORDER BY id",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c := Chunk{TenantID: tenantID}
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DocumentChunks implements Backend.
func (b *SQLiteBackend) DocumentChunks(ctx context.Context, tenantID, documentID string) ([]string, error) {
	return b.texts(ctx,
		"SELECT content FROM chunks WHERE tenant_id = ? AND document_id = ? ORDER BY id",
		tenantID, documentID)
}

// URLChunks implements Backend.
func (b *SQLiteBackend) URLChunks(ctx context.Context, tenantID string, limit int) ([]string, error) {
	return b.texts(ctx,
		`SELECT content FROM chunks
		 WHERE tenant_id = ? AND (document_id GLOB 'http://*' OR document_id GLOB 'https://*')
		 ORDER BY id LIMIT ?`,
		tenantID, limit)
}

func (b *SQLiteBackend) texts(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StoredDimension implements Dimensioner. Embeddings are 4 bytes per value.
func (b *SQLiteBackend) StoredDimension(ctx context.Context) (int, error) {
	var size int
	err := b.db.QueryRowContext(ctx, "SELECT length(embedding) FROM chunks LIMIT 1").Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading stored dimension: %w", err)
	}
	return size / 4, nil
}

// DeleteDocument implements Backend.
func (b *SQLiteBackend) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM chunks WHERE tenant_id = ? AND document_id = ?", tenantID, documentID)
	return err
}

// DeleteTenant implements Backend.
func (b *SQLiteBackend) DeleteTenant(ctx context.Context, tenantID string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM chunks WHERE tenant_id = ?", tenantID)
	return err
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// encodeEmbedding packs float32 values little-endian.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.New("embedding blob length not a multiple of 4")
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
