package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnknownModel is returned when a requested model ID is not registered.
var ErrUnknownModel = errors.New("llm: unknown model")

// ModelSpec describes one generation model available for dispatch, including
// the per-million-token pricing used to compute request cost.
type ModelSpec struct {
	Config
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

// GenerateResult carries the generated text together with the usage and
// latency accounting reported alongside every answer.
type GenerateResult struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	Latency   time.Duration
	CostUSD   float64
}

type dispatchEntry struct {
	provider Provider
	spec     ModelSpec
}

// Dispatcher routes generation requests to the provider backing each
// registered model ID. Providers are constructed once at registration.
type Dispatcher struct {
	models       map[string]dispatchEntry
	defaultModel string
}

// NewDispatcher builds a dispatcher from the model registry. Every model must
// resolve to a constructible provider; defaultModel must be registered unless
// the registry is empty.
func NewDispatcher(models map[string]ModelSpec, defaultModel string) (*Dispatcher, error) {
	d := &Dispatcher{
		models:       make(map[string]dispatchEntry, len(models)),
		defaultModel: defaultModel,
	}
	for id, spec := range models {
		p, err := NewProvider(spec.Config)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", id, err)
		}
		d.models[id] = dispatchEntry{provider: p, spec: spec}
	}
	if defaultModel != "" {
		if _, ok := d.models[defaultModel]; !ok {
			return nil, fmt.Errorf("%w: default model %q not registered", ErrUnknownModel, defaultModel)
		}
	}
	return d, nil
}

// DefaultModel returns the model ID used when a request does not name one.
func (d *Dispatcher) DefaultModel() string { return d.defaultModel }

// Has reports whether a model ID is registered.
func (d *Dispatcher) Has(modelID string) bool {
	_, ok := d.models[modelID]
	return ok
}

// Generate runs a chat completion against the provider backing modelID and
// returns the answer text with token usage, latency and computed cost. An
// empty modelID selects the default model.
func (d *Dispatcher) Generate(ctx context.Context, modelID string, messages []Message, temperature float64, maxTokens int) (*GenerateResult, error) {
	if modelID == "" {
		modelID = d.defaultModel
	}
	entry, ok := d.models[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}

	start := time.Now()
	resp, err := entry.provider.Chat(ctx, ChatRequest{
		Model:       entry.spec.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	cost := float64(resp.PromptTokens)*entry.spec.InputPricePerMTok/1e6 +
		float64(resp.CompletionTokens)*entry.spec.OutputPricePerMTok/1e6

	slog.Debug("llm: generation complete",
		"model", modelID,
		"tokens_in", resp.PromptTokens,
		"tokens_out", resp.CompletionTokens,
		"latency_ms", latency.Milliseconds(),
		"cost_usd", cost)

	return &GenerateResult{
		Text:      resp.Content,
		Model:     modelID,
		TokensIn:  resp.PromptTokens,
		TokensOut: resp.CompletionTokens,
		Latency:   latency,
		CostUSD:   cost,
	}, nil
}
