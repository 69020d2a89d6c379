package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveindex "github.com/blevesearch/bleve_index_api"
	"github.com/verifyr/verifyr/chunker"
)

// chunkAnalyzerName is the analyzer applied to chunk text at both index and
// query time: whitespace tokenization plus lowercasing, mirroring the token
// counting used by the chunker.
const chunkAnalyzerName = "chunk_text"

// LexicalIndex is the sparse retrieval arm: a bleve index scoring chunks by
// BM25 term match, keyed by chunk ID.
type LexicalIndex struct {
	index bleve.Index
}

// lexicalDocument is the bleve document shape. Only text is indexed; all
// chunk metadata lives in the catalog.
type lexicalDocument struct {
	Text string `json:"text"`
}

func lexicalMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(chunkAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     whitespace.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("adding chunk analyzer: %w", err)
	}
	m.DefaultAnalyzer = chunkAnalyzerName
	// bleve defaults to TF-IDF; BM25 must be opted into.
	m.ScoringModel = bleveindex.BM25Scoring
	return m, nil
}

// BuildLexicalIndex writes a fresh lexical index at path. The index is built
// in a temporary directory and renamed into place.
func BuildLexicalIndex(path string, chunks []chunker.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifacts directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clearing temp index: %w", err)
	}

	m, err := lexicalMapping()
	if err != nil {
		return err
	}
	idx, err := bleve.New(tmp, m)
	if err != nil {
		return fmt.Errorf("creating lexical index: %w", err)
	}

	batch := idx.NewBatch()
	for i := range chunks {
		doc := lexicalDocument{Text: chunks[i].Text}
		if err := batch.Index(chunks[i].ChunkID, doc); err != nil {
			idx.Close()
			os.RemoveAll(tmp)
			return fmt.Errorf("indexing chunk %s: %w", chunks[i].ChunkID, err)
		}
		// Flush periodically to bound memory on large corpora.
		if batch.Size() >= 500 {
			if err := idx.Batch(batch); err != nil {
				idx.Close()
				os.RemoveAll(tmp)
				return fmt.Errorf("writing lexical batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			idx.Close()
			os.RemoveAll(tmp)
			return fmt.Errorf("writing lexical batch: %w", err)
		}
	}
	if err := idx.Close(); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("closing lexical index: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing old lexical index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing lexical index: %w", err)
	}
	return nil
}

// OpenLexicalIndex opens an existing lexical index.
func OpenLexicalIndex(path string) (*LexicalIndex, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lexical index: %v", ErrIndexUnavailable, err)
	}
	return &LexicalIndex{index: idx}, nil
}

// Search returns up to k chunks matching the query, best first. Equal scores
// are ordered by chunk ID so results are deterministic.
func (l *LexicalIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	mq := bleve.NewMatchQuery(query)
	mq.SetField("text")
	mq.Analyzer = chunkAnalyzerName

	req := bleve.NewSearchRequest(mq)
	req.Size = k

	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ChunkID: h.ID, Score: h.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	return hits, nil
}

// Count returns the number of indexed chunks.
func (l *LexicalIndex) Count() (int, error) {
	n, err := l.index.DocCount()
	return int(n), err
}

// Close closes the index.
func (l *LexicalIndex) Close() error {
	return l.index.Close()
}
