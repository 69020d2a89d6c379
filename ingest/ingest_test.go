package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"github.com/verifyr/verifyr/index"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func TestRunFailsFastWhenLocked(t *testing.T) {
	artifacts := t.TempDir()

	other := flock.New(filepath.Join(artifacts, buildLockName))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("pre-locking: %v", err)
	}
	defer other.Unlock()

	p := New(Config{
		CorpusDir:    t.TempDir(),
		ArtifactsDir: artifacts,
		EmbedderName: "test",
		VectorDim:    3,
	}, &fakeEmbedder{dim: 3})

	if err := p.Run(context.Background()); !errors.Is(err, index.ErrIndexLocked) {
		t.Fatalf("error = %v, want ErrIndexLocked", err)
	}
}

func TestRunEmptyCorpus(t *testing.T) {
	p := New(Config{
		CorpusDir:    t.TempDir(), // no product directories
		ArtifactsDir: t.TempDir(),
		EmbedderName: "test",
		VectorDim:    3,
	}, &fakeEmbedder{dim: 3})

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error for corpus with no chunks")
	}
}

func TestRunMissingCorpusDir(t *testing.T) {
	p := New(Config{
		CorpusDir:    filepath.Join(t.TempDir(), "absent"),
		ArtifactsDir: t.TempDir(),
		EmbedderName: "test",
		VectorDim:    3,
	}, &fakeEmbedder{dim: 3})

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing corpus directory")
	}
}
