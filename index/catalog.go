package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/verifyr/verifyr/chunker"
)

// Catalog is the in-memory view of the chunk artifact: every chunk in the
// corpus, addressable by chunk ID.
type Catalog struct {
	chunks []chunker.Chunk
	byID   map[string]*chunker.Chunk
}

// NewCatalog builds a catalog from a chunk slice.
func NewCatalog(chunks []chunker.Chunk) *Catalog {
	c := &Catalog{
		chunks: chunks,
		byID:   make(map[string]*chunker.Chunk, len(chunks)),
	}
	for i := range chunks {
		c.byID[chunks[i].ChunkID] = &chunks[i]
	}
	return c
}

// LoadCatalog reads the chunk artifact from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading chunks: %v", ErrIndexUnavailable, err)
	}
	var chunks []chunker.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("%w: decoding chunks: %v", ErrIndexUnavailable, err)
	}
	return NewCatalog(chunks), nil
}

// WriteCatalog writes the chunk artifact atomically: a temp file in the same
// directory is renamed over the target so readers never see a partial write.
func WriteCatalog(path string, chunks []chunker.Chunk) error {
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifacts directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing chunks: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing chunks: %w", err)
	}
	return nil
}

// Get returns the chunk with the given ID, or nil if unknown.
func (c *Catalog) Get(chunkID string) *chunker.Chunk {
	return c.byID[chunkID]
}

// Chunks returns all chunks in corpus order.
func (c *Catalog) Chunks() []chunker.Chunk {
	return c.chunks
}

// Len returns the number of chunks.
func (c *Catalog) Len() int {
	return len(c.chunks)
}

// Products returns the distinct product names in corpus order.
func (c *Catalog) Products() []string {
	seen := make(map[string]bool)
	var products []string
	for i := range c.chunks {
		name := c.chunks[i].ProductName
		if !seen[name] {
			seen[name] = true
			products = append(products, name)
		}
	}
	return products
}
