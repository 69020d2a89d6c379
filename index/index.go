// Package index holds the three retrieval artifacts produced by ingestion:
// the chunk catalog, the vector index and the lexical index. Artifacts are
// immutable once built; a rebuild replaces them atomically.
package index

import "errors"

var (
	// ErrIndexUnavailable is returned when an index artifact is missing or
	// cannot be opened.
	ErrIndexUnavailable = errors.New("index: index unavailable")

	// ErrIndexLocked is returned when a rebuild holds the build lock.
	ErrIndexLocked = errors.New("index: rebuild in progress")

	// ErrEmbedderMismatch is returned when the vector index was built with a
	// different encoder or dimension than the one configured for queries.
	ErrEmbedderMismatch = errors.New("index: embedder mismatch")
)

// Hit is a single search result from either index arm.
type Hit struct {
	ChunkID string
	Score   float64
}
