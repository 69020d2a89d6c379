package llm

import (
	"context"
	"fmt"
	"math"
)

// embedBatchSize bounds how many texts are sent per provider request during
// corpus embedding.
const embedBatchSize = 32

// Embedder wraps a Provider's embedding endpoint with the guarantees the
// indexes rely on: every returned vector has the expected dimension and unit
// L2 norm, so inner product equals cosine similarity.
type Embedder struct {
	provider Provider

	// Name identifies the sentence encoder. It is persisted in the vector
	// index manifest; query-time and index-time names must match.
	Name string

	// Dim is the expected vector dimension.
	Dim int
}

// NewEmbedder wraps provider with dimension validation and normalization.
func NewEmbedder(provider Provider, name string, dim int) *Embedder {
	return &Embedder{provider: provider, Name: name, Dim: dim}
}

// Embed returns one unit-normalized vector per input text, in input order.
// Inputs are sent in fixed-size batches; batching does not change values.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.provider.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts",
				ErrRequestFailed, len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) != e.Dim {
				return nil, fmt.Errorf("%w: embedding dimension %d, expected %d (text %d)",
					ErrRequestFailed, len(v), e.Dim, start+i)
			}
			out = append(out, normalize(v))
		}
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// normalize scales v to unit L2 norm. Zero vectors are returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
