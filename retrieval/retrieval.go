// Package retrieval implements hybrid lexical+vector retrieval with
// reciprocal rank fusion and product-diversity enforcement.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verifyr/verifyr/chunker"
	"github.com/verifyr/verifyr/index"
)

var (
	// ErrRetrievalFailed is returned when both retrieval arms fail.
	ErrRetrievalFailed = errors.New("retrieval: all arms failed")

	// ErrRetrievalTimeout is returned when the retrieval budget is exceeded.
	ErrRetrievalTimeout = errors.New("retrieval: budget exceeded")
)

// diversityPoolSize is how deep into the fused ranking diversity swaps may
// reach for replacement candidates.
const diversityPoolSize = 40

// LexicalSearcher is the sparse arm.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, k int) ([]index.Hit, error)
}

// VectorSearcher is the dense arm.
type VectorSearcher interface {
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]index.Hit, error)
}

// QueryEmbedder embeds the question for the dense arm.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Candidate is one retrieved chunk with its fused score.
type Candidate struct {
	Chunk *chunker.Chunk
	Score float64
}

// Result is the outcome of one retrieval. Degraded names the arm that
// failed when retrieval proceeded on the other one alone.
type Result struct {
	Candidates []Candidate
	Degraded   string // "", "lexical" or "vector"
}

// Config controls the retriever.
type Config struct {
	RetrieveK        int           // candidates fetched per arm
	Budget           time.Duration // soft deadline for both arms
	HistoryExpansion bool          // prepend the last user turn to follow-ups
}

// Retriever runs both arms concurrently, fuses the rankings and applies the
// analyzer's diversity verdict.
type Retriever struct {
	catalog  *index.Catalog
	lexical  LexicalSearcher
	vector   VectorSearcher
	embedder QueryEmbedder
	cfg      Config
}

// New builds a Retriever. Zero-value config fields get the documented
// defaults (retrieve_k 20, budget 2 s).
func New(catalog *index.Catalog, lexical LexicalSearcher, vector VectorSearcher, embedder QueryEmbedder, cfg Config) *Retriever {
	if cfg.RetrieveK == 0 {
		cfg.RetrieveK = 20
	}
	if cfg.Budget == 0 {
		cfg.Budget = 2 * time.Second
	}
	return &Retriever{
		catalog:  catalog,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Retrieve returns the top chunks for the question. history holds prior user
// turns, most recent last; it is only consulted when history expansion is
// enabled.
func (r *Retriever) Retrieve(ctx context.Context, question string, history []string, analysis Analysis) (*Result, error) {
	query := question
	if r.cfg.HistoryExpansion && len(history) > 0 {
		query = history[len(history)-1] + "\n" + question
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	var (
		lexHits, vecHits []index.Hit
		lexErr, vecErr   error
	)

	var g errgroup.Group
	g.Go(func() error {
		lexHits, lexErr = r.lexical.Search(ctx, query, r.cfg.RetrieveK)
		return nil
	})
	g.Go(func() error {
		vec, err := r.embedder.EmbedOne(ctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits, vecErr = r.vector.Search(ctx, vec, r.cfg.RetrieveK)
		return nil
	})
	g.Wait()

	if lexErr != nil && vecErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRetrievalTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: lexical: %v; vector: %v", ErrRetrievalFailed, lexErr, vecErr)
	}

	degraded := ""
	if lexErr != nil {
		degraded = "lexical"
		slog.Warn("retrieval: lexical arm failed, continuing with vector only", "error", lexErr)
		lexHits = nil
	}
	if vecErr != nil {
		degraded = "vector"
		slog.Warn("retrieval: vector arm failed, continuing with lexical only", "error", vecErr)
		vecHits = nil
	}

	if len(analysis.TargetProducts) == 1 {
		lexHits = r.filterByProduct(lexHits, analysis.TargetProducts[0])
		vecHits = r.filterByProduct(vecHits, analysis.TargetProducts[0])
	}

	fused := fuse(lexHits, vecHits)

	candidates := r.resolve(fused)
	selection := candidates
	if len(selection) > analysis.TopK {
		selection = selection[:analysis.TopK]
	}

	if analysis.DiversityEnabled {
		pool := candidates
		if len(pool) > diversityPoolSize {
			pool = pool[:diversityPoolSize]
		}
		selection = enforceDiversity(selection, pool, analysis.TargetProducts, analysis.TopK)
	}

	return &Result{Candidates: selection, Degraded: degraded}, nil
}

// filterByProduct drops hits belonging to other products.
func (r *Retriever) filterByProduct(hits []index.Hit, product string) []index.Hit {
	kept := hits[:0]
	for _, h := range hits {
		if c := r.catalog.Get(h.ChunkID); c != nil && c.ProductName == product {
			kept = append(kept, h)
		}
	}
	return kept
}

// resolve maps fused hits to catalog chunks, dropping ids the catalog does
// not know (stale index entries).
func (r *Retriever) resolve(hits []index.Hit) []Candidate {
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		c := r.catalog.Get(h.ChunkID)
		if c == nil {
			slog.Warn("retrieval: index hit missing from catalog", "chunk_id", h.ChunkID)
			continue
		}
		out = append(out, Candidate{Chunk: c, Score: h.Score})
	}
	return out
}
