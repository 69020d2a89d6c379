// Package ingest runs the offline pipeline: extract PDFs, chunk, embed and
// build the retrieval artifacts. A run is a full rebuild; every artifact is
// written to a temporary location and swapped in atomically.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/verifyr/verifyr/chunker"
	"github.com/verifyr/verifyr/extract"
	"github.com/verifyr/verifyr/index"
)

// buildLockName is the lock file guarding an artifacts directory against
// concurrent rebuilds and a serving process holding the vector store.
const buildLockName = ".build.lock"

// Embedder produces unit-normalized vectors for chunk texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config describes one pipeline run.
type Config struct {
	CorpusDir      string // product subdirectories of PDFs
	ArtifactsDir   string // destination for chunks.json, vectors.db, lexical.bleve
	SourcesMapPath string // optional companion JSON map; may be empty

	ChunkTargetTokens  int
	ChunkOverlapTokens int

	EmbedderName string
	VectorDim    int
}

// Pipeline builds the three retrieval artifacts from a document corpus.
type Pipeline struct {
	cfg      Config
	embedder Embedder
}

// New returns a Pipeline.
func New(cfg Config, embedder Embedder) *Pipeline {
	return &Pipeline{cfg: cfg, embedder: embedder}
}

// Run executes the full pipeline. It fails fast when another process holds
// the build lock.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.ArtifactsDir, 0755); err != nil {
		return fmt.Errorf("creating artifacts directory: %w", err)
	}

	lock := flock.New(filepath.Join(p.cfg.ArtifactsDir, buildLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring build lock: %w", err)
	}
	if !locked {
		return index.ErrIndexLocked
	}
	defer lock.Unlock()

	start := time.Now()

	sources, err := p.loadSources()
	if err != nil {
		return err
	}

	pages, err := extract.New(sources).ExtractCorpus(ctx, p.cfg.CorpusDir)
	if err != nil {
		return fmt.Errorf("extracting corpus: %w", err)
	}
	slog.Info("ingest: extraction done", "pages", len(pages))

	chunks := chunker.New(chunker.Config{
		TargetTokens:  p.cfg.ChunkTargetTokens,
		OverlapTokens: p.cfg.ChunkOverlapTokens,
	}).ChunkCorpus(pages)
	if len(chunks) == 0 {
		return fmt.Errorf("corpus produced no chunks")
	}
	slog.Info("ingest: chunking done", "chunks", len(chunks))

	chunksPath := filepath.Join(p.cfg.ArtifactsDir, "chunks.json")
	if err := index.WriteCatalog(chunksPath, chunks); err != nil {
		return fmt.Errorf("writing chunk catalog: %w", err)
	}

	texts := make([]string, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
		chunkIDs[i] = chunks[i].ChunkID
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	slog.Info("ingest: embedding done", "vectors", len(embeddings))

	vectorsPath := filepath.Join(p.cfg.ArtifactsDir, "vectors.db")
	if err := index.BuildVectorIndex(vectorsPath, p.cfg.EmbedderName, p.cfg.VectorDim, chunkIDs, embeddings); err != nil {
		return fmt.Errorf("building vector index: %w", err)
	}

	lexicalPath := filepath.Join(p.cfg.ArtifactsDir, "lexical.bleve")
	if err := index.BuildLexicalIndex(lexicalPath, chunks); err != nil {
		return fmt.Errorf("building lexical index: %w", err)
	}

	slog.Info("ingest: pipeline done",
		"chunks", len(chunks),
		"artifacts_dir", p.cfg.ArtifactsDir,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Pipeline) loadSources() (extract.SourcesMap, error) {
	if p.cfg.SourcesMapPath == "" {
		return extract.SourcesMap{}, nil
	}
	sources, err := extract.LoadSourcesMap(p.cfg.SourcesMapPath)
	if err != nil {
		return nil, fmt.Errorf("loading sources map: %w", err)
	}
	return sources, nil
}
