package verifyr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Verifyr engine and its pipeline.
// Unknown keys in a config file are rejected at load time.
type Config struct {
	// ArtifactsDir is where the ingestion pipeline writes and the engine
	// reads index artifacts (chunks.json, vectors.db, lexical.bleve/).
	ArtifactsDir string `json:"artifacts_dir" yaml:"artifacts_dir"`

	// ConversationsDB is the path to the conversation store database.
	ConversationsDB string `json:"conversations_db" yaml:"conversations_db"`

	// Chunking
	ChunkTargetTokens  int `json:"chunk_target_tokens" yaml:"chunk_target_tokens"`
	ChunkOverlapTokens int `json:"chunk_overlap_tokens" yaml:"chunk_overlap_tokens"`

	// Embedding encoder. EmbedderName identifies the sentence encoder and is
	// persisted with the vector index; a mismatch at load time is fatal.
	Embedding    ProviderConfig `json:"embedding" yaml:"embedding"`
	EmbedderName string         `json:"embedder_name" yaml:"embedder_name"`
	VectorDim    int            `json:"vector_dim" yaml:"vector_dim"`

	// Retrieval
	RetrieveK           int  `json:"retrieve_k" yaml:"retrieve_k"`
	TopKSimple          int  `json:"default_top_k_simple" yaml:"default_top_k_simple"`
	TopKComplex         int  `json:"default_top_k_complex" yaml:"default_top_k_complex"`
	HistoryExpansion    bool `json:"history_expansion" yaml:"history_expansion"`
	RetrievalDeadlineMS int  `json:"retrieval_deadline_ms" yaml:"retrieval_deadline_ms"`

	// Generation
	DefaultModel    string                 `json:"default_model" yaml:"default_model"`
	Models          map[string]ModelConfig `json:"models" yaml:"models"`
	Temperature     float64                `json:"temperature" yaml:"temperature"`
	MaxOutputTokens int                    `json:"max_output_tokens" yaml:"max_output_tokens"`

	// Request handling
	RequestDeadlineMS     int `json:"request_deadline_ms" yaml:"request_deadline_ms"`
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`

	// Products is the hand-maintained product registry used by the query
	// analyzer. Scaling to new products means updating this list.
	Products []ProductConfig `json:"products" yaml:"products"`
}

// ProviderConfig configures a single LLM provider endpoint.
type ProviderConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, openrouter, groq, ollama, gemini
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// ModelConfig describes one generation model available to callers, including
// the per-million-token pricing used to compute request cost.
type ModelConfig struct {
	Provider           string  `json:"provider" yaml:"provider"`
	Model              string  `json:"model" yaml:"model"`
	BaseURL            string  `json:"base_url" yaml:"base_url"`
	APIKey             string  `json:"api_key" yaml:"api_key"`
	InputPricePerMTok  float64 `json:"input_price_per_mtok" yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64 `json:"output_price_per_mtok" yaml:"output_price_per_mtok"`
}

// ProductConfig registers one known product with its detection aliases
// (full name, short name, model number).
type ProductConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases" yaml:"aliases"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		ArtifactsDir:    "data/index",
		ConversationsDB: "data/conversations.db",

		ChunkTargetTokens:  800,
		ChunkOverlapTokens: 200,

		Embedding: ProviderConfig{
			Provider: "ollama",
			Model:    "paraphrase-multilingual",
			BaseURL:  "http://localhost:11434",
		},
		EmbedderName: "paraphrase-multilingual-MiniLM-L12-v2",
		VectorDim:    384,

		RetrieveK:           20,
		TopKSimple:          5,
		TopKComplex:         8,
		RetrievalDeadlineMS: 2000,

		Temperature:     0.3,
		MaxOutputTokens: 800,

		RequestDeadlineMS:     60000,
		MaxConcurrentRequests: 32,
	}
}

// LoadConfig reads a YAML or JSON config file. Unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	default: // .yaml, .yml
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the engine depends on.
func (c *Config) Validate() error {
	if c.ChunkTargetTokens <= 0 {
		return fmt.Errorf("%w: chunk_target_tokens must be positive", ErrInvalidConfig)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkTargetTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens must be in [0, chunk_target_tokens)", ErrInvalidConfig)
	}
	if c.VectorDim <= 0 {
		return fmt.Errorf("%w: vector_dim must be positive", ErrInvalidConfig)
	}
	if c.RetrieveK <= 0 {
		return fmt.Errorf("%w: retrieve_k must be positive", ErrInvalidConfig)
	}
	if c.TopKSimple <= 0 || c.TopKComplex <= 0 {
		return fmt.Errorf("%w: top_k defaults must be positive", ErrInvalidConfig)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("%w: max_concurrent_requests must be positive", ErrInvalidConfig)
	}
	if c.DefaultModel != "" {
		if _, ok := c.Models[c.DefaultModel]; !ok {
			return fmt.Errorf("%w: default_model %q is not in models", ErrInvalidConfig, c.DefaultModel)
		}
	}
	seen := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		if p.Name == "" {
			return fmt.Errorf("%w: product with empty name", ErrInvalidConfig)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate product %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ChunksPath returns the path of the chunks artifact.
func (c *Config) ChunksPath() string { return filepath.Join(c.ArtifactsDir, "chunks.json") }

// VectorsPath returns the path of the vector index database.
func (c *Config) VectorsPath() string { return filepath.Join(c.ArtifactsDir, "vectors.db") }

// LexicalPath returns the path of the lexical index directory.
func (c *Config) LexicalPath() string { return filepath.Join(c.ArtifactsDir, "lexical.bleve") }
