// Command ingest runs the offline pipeline: extract the PDF corpus, chunk
// it, embed every chunk and build the retrieval artifacts.
//
// Usage:
//
//	go run ./cmd/ingest \
//	  --config ./config.yaml \
//	  --corpus ./data/corpus \
//	  --artifacts ./data/index
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/verifyr/verifyr"
	"github.com/verifyr/verifyr/ingest"
	"github.com/verifyr/verifyr/llm"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	corpusDir := flag.String("corpus", "", "Corpus directory (one subdirectory per product)")
	artifactsDir := flag.String("artifacts", "", "Artifacts directory (defaults to the configured one)")
	sourcesMap := flag.String("sources", "", "Optional sources map JSON")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := verifyr.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = verifyr.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	if *corpusDir == "" {
		slog.Error("--corpus is required")
		os.Exit(1)
	}
	if *artifactsDir == "" {
		*artifactsDir = cfg.ArtifactsDir
	}
	if v := os.Getenv("VERIFYR_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("VERIFYR_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	provider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		slog.Error("creating embedding provider", "error", err)
		os.Exit(1)
	}
	embedder := llm.NewEmbedder(provider, cfg.EmbedderName, cfg.VectorDim)

	pipeline := ingest.New(ingest.Config{
		CorpusDir:          *corpusDir,
		ArtifactsDir:       *artifactsDir,
		SourcesMapPath:     *sourcesMap,
		ChunkTargetTokens:  cfg.ChunkTargetTokens,
		ChunkOverlapTokens: cfg.ChunkOverlapTokens,
		EmbedderName:       cfg.EmbedderName,
		VectorDim:          cfg.VectorDim,
	}, embedder)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Run(ctx); err != nil {
		slog.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}
