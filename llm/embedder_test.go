package llm

import (
	"context"
	"errors"
	"math"
	"testing"
)

// fakeEmbedProvider returns canned vectors and records batch sizes.
type fakeEmbedProvider struct {
	dim     int
	batches []int
}

func (f *fakeEmbedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 3
		if f.dim > 1 {
			v[1] = 4
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbedderNormalizes(t *testing.T) {
	fake := &fakeEmbedProvider{dim: 2}
	e := NewEmbedder(fake, "test-encoder", 2)

	vecs, err := e.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-6 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(norm))
	}
	// 3-4-5 triangle: normalized to (0.6, 0.8).
	if math.Abs(float64(vecs[0][0])-0.6) > 1e-6 || math.Abs(float64(vecs[0][1])-0.8) > 1e-6 {
		t.Errorf("vector = %v, want [0.6 0.8]", vecs[0])
	}
}

func TestEmbedderBatches(t *testing.T) {
	fake := &fakeEmbedProvider{dim: 2}
	e := NewEmbedder(fake, "test-encoder", 2)

	texts := make([]string, 70)
	for i := range texts {
		texts[i] = "chunk"
	}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 70 {
		t.Fatalf("got %d vectors, want 70", len(vecs))
	}
	want := []int{32, 32, 6}
	if len(fake.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", fake.batches, want)
	}
	for i, n := range want {
		if fake.batches[i] != n {
			t.Errorf("batch %d size = %d, want %d", i, fake.batches[i], n)
		}
	}
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	fake := &fakeEmbedProvider{dim: 3}
	e := NewEmbedder(fake, "test-encoder", 2)

	_, err := e.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("error = %v, want ErrRequestFailed", err)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	got := normalize(v)
	for i, x := range got {
		if x != 0 {
			t.Errorf("element %d = %f, want 0", i, x)
		}
	}
}
