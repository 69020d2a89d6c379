package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// VectorIndex is the dense retrieval arm: a sqlite-vec database holding one
// unit-normalized embedding per chunk plus a manifest identifying the
// encoder that produced them.
type VectorIndex struct {
	db  *sql.DB
	dim int
}

func vectorSchemaSQL(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS manifest (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_payload (
    rowid INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    embedding float[%d] distance_metric=cosine
);
`, dim)
}

// BuildVectorIndex writes a fresh vector index at path. The database is
// assembled at a temporary path and renamed into place so a concurrent
// reader never observes a half-built index.
func BuildVectorIndex(path, embedderName string, dim int, chunkIDs []string, embeddings [][]float32) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("building vector index: %d ids for %d embeddings", len(chunkIDs), len(embeddings))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifacts directory: %w", err)
	}

	tmp := path + ".tmp"
	os.Remove(tmp)

	db, err := sql.Open("sqlite3", tmp+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	if err := populateVectorIndex(db, embedderName, dim, chunkIDs, embeddings); err != nil {
		db.Close()
		os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing vector index: %w", err)
	}

	// WAL sidecar files are checkpointed on close; drop any leftovers.
	os.Remove(tmp + "-wal")
	os.Remove(tmp + "-shm")

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing vector index: %w", err)
	}
	return nil
}

func populateVectorIndex(db *sql.DB, embedderName string, dim int, chunkIDs []string, embeddings [][]float32) error {
	if _, err := db.Exec(vectorSchemaSQL(dim)); err != nil {
		return fmt.Errorf("creating vector schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, kv := range [][2]string{
		{"embedder_name", embedderName},
		{"vector_dim", fmt.Sprint(dim)},
		{"chunk_count", fmt.Sprint(len(chunkIDs))},
		{"built_at", time.Now().UTC().Format(time.RFC3339)},
	} {
		if _, err := tx.Exec("INSERT OR REPLACE INTO manifest (key, value) VALUES (?, ?)", kv[0], kv[1]); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}

	payloadStmt, err := tx.Prepare("INSERT INTO chunk_payload (rowid, chunk_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer payloadStmt.Close()

	vecStmt, err := tx.Prepare("INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, id := range chunkIDs {
		if len(embeddings[i]) != dim {
			return fmt.Errorf("chunk %s: embedding dimension %d, expected %d", id, len(embeddings[i]), dim)
		}
		rowid := int64(i + 1)
		if _, err := payloadStmt.Exec(rowid, id); err != nil {
			return fmt.Errorf("inserting payload for %s: %w", id, err)
		}
		if _, err := vecStmt.Exec(rowid, serializeFloat32(embeddings[i])); err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// OpenVectorIndex opens an existing vector index read-only and verifies its
// manifest against the configured encoder. A name or dimension mismatch is
// fatal: mixing encoders makes similarity scores meaningless.
func OpenVectorIndex(path, embedderName string, dim int) (*VectorIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: opening vector index: %v", ErrIndexUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging vector index: %v", ErrIndexUnavailable, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	idx := &VectorIndex{db: db, dim: dim}
	if err := idx.verifyManifest(embedderName, dim); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (v *VectorIndex) verifyManifest(embedderName string, dim int) error {
	manifest := make(map[string]string)
	rows, err := v.db.Query("SELECT key, value FROM manifest")
	if err != nil {
		return fmt.Errorf("%w: reading manifest: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, val string
		if err := rows.Scan(&k, &val); err != nil {
			return fmt.Errorf("%w: reading manifest: %v", ErrIndexUnavailable, err)
		}
		manifest[k] = val
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: reading manifest: %v", ErrIndexUnavailable, err)
	}

	if got := manifest["embedder_name"]; got != embedderName {
		return fmt.Errorf("%w: index built with encoder %q, configured %q", ErrEmbedderMismatch, got, embedderName)
	}
	if got := manifest["vector_dim"]; got != fmt.Sprint(dim) {
		return fmt.Errorf("%w: index dimension %s, configured %d", ErrEmbedderMismatch, got, dim)
	}
	return nil
}

// Search returns the k nearest chunks to the query embedding by cosine
// similarity, best first. Scores are in [-1, 1].
func (v *VectorIndex) Search(ctx context.Context, queryEmbedding []float32, k int) ([]Hit, error) {
	if len(queryEmbedding) != v.dim {
		return nil, fmt.Errorf("query embedding dimension %d, expected %d", len(queryEmbedding), v.dim)
	}

	rows, err := v.db.QueryContext(ctx, `
		SELECT p.chunk_id, c.distance
		FROM vec_chunks c
		JOIN chunk_payload p ON p.rowid = c.rowid
		WHERE c.embedding MATCH ? AND k = ?
		ORDER BY c.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		if err := rows.Scan(&h.ChunkID, &distance); err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		// Cosine distance is 1 - similarity.
		h.Score = 1.0 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of indexed chunks.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunk_payload").Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (v *VectorIndex) Close() error {
	return v.db.Close()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
