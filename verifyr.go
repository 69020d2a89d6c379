// Package verifyr is a grounded question-answering engine for wearable
// product documentation: hybrid retrieval over pre-built indexes, cited
// generation through configurable LLM providers, and persistent
// conversations.
package verifyr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/verifyr/verifyr/chunker"
	"github.com/verifyr/verifyr/index"
	"github.com/verifyr/verifyr/llm"
	"github.com/verifyr/verifyr/prompt"
	"github.com/verifyr/verifyr/retrieval"
	"github.com/verifyr/verifyr/store"
)

// maxQuestionChars bounds question length.
const maxQuestionChars = 2000

// Query is one question against the engine.
type Query struct {
	Question       string          `json:"question"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Language       string          `json:"language,omitempty"` // "en" (default) or "de"
	ModelID        string          `json:"model,omitempty"`
	Requester      store.Requester `json:"-"`
}

// TokensUsed reports prompt and completion token counts.
type TokensUsed struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// QueryResponse is the answer to one Query.
type QueryResponse struct {
	Answer            string          `json:"answer"`
	Sources           []prompt.Source `json:"sources"`
	ConversationID    string          `json:"conversation_id"`
	ResponseTimeMS    int64           `json:"response_time_ms"`
	ModelUsed         string          `json:"model_used"`
	TokensUsed        TokensUsed      `json:"tokens_used"`
	CostUSD           float64         `json:"cost_usd"`
	RetrievalDegraded string          `json:"retrieval_degraded,omitempty"`
}

// Health reports whether the engine's backing artifacts are serviceable.
type Health struct {
	Status       string `json:"status"` // "ok" or "degraded"
	Chunks       int    `json:"chunks"`
	VectorIndex  bool   `json:"vector_index"`
	LexicalIndex bool   `json:"lexical_index"`
	Store        bool   `json:"store"`
}

// generator is the slice of llm.Dispatcher the engine needs.
type generator interface {
	Generate(ctx context.Context, modelID string, messages []llm.Message, temperature float64, maxTokens int) (*llm.GenerateResult, error)
	Has(modelID string) bool
	DefaultModel() string
}

// retriever is the slice of retrieval.Retriever the engine needs.
type retriever interface {
	Retrieve(ctx context.Context, question string, history []string, analysis retrieval.Analysis) (*retrieval.Result, error)
}

// conversationStore is the slice of store.Store the engine needs.
type conversationStore interface {
	Create(ctx context.Context, ownerID, language, modelID string) (string, error)
	AppendTurn(ctx context.Context, conversationID string, user, assistant store.Message) error
	Get(ctx context.Context, conversationID string, req store.Requester) (*store.Conversation, error)
	List(ctx context.Context, req store.Requester) ([]store.Conversation, error)
	Ping(ctx context.Context) error
	Close() error
}

// Engine answers questions over the ingested corpus. Build one per process:
// the vector index holds its database open for the engine's lifetime, and
// the conversation store serializes appends in-process.
type Engine struct {
	cfg Config

	catalog       *index.Catalog
	vector        *index.VectorIndex
	lexical       *index.LexicalIndex
	analyzer      *retrieval.Analyzer
	retriever     retriever
	composer      *prompt.Composer
	dispatcher    generator
	conversations conversationStore

	sem    *semaphore.Weighted
	tracer trace.Tracer
	closed atomic.Bool
}

// New builds an Engine from configuration. It fails fast when the index
// artifacts are missing or were built with a different encoder.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog, err := index.LoadCatalog(cfg.ChunksPath())
	if err != nil {
		return nil, fmt.Errorf("loading chunk catalog: %w", err)
	}

	vector, err := index.OpenVectorIndex(cfg.VectorsPath(), cfg.EmbedderName, cfg.VectorDim)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	lexical, err := index.OpenLexicalIndex(cfg.LexicalPath())
	if err != nil {
		vector.Close()
		return nil, fmt.Errorf("opening lexical index: %w", err)
	}

	embedProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		vector.Close()
		lexical.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	embedder := llm.NewEmbedder(embedProvider, cfg.EmbedderName, cfg.VectorDim)

	specs := make(map[string]llm.ModelSpec, len(cfg.Models))
	for id, m := range cfg.Models {
		specs[id] = llm.ModelSpec{
			Config: llm.Config{
				Provider: m.Provider,
				Model:    m.Model,
				BaseURL:  m.BaseURL,
				APIKey:   m.APIKey,
			},
			InputPricePerMTok:  m.InputPricePerMTok,
			OutputPricePerMTok: m.OutputPricePerMTok,
		}
	}
	dispatcher, err := llm.NewDispatcher(specs, cfg.DefaultModel)
	if err != nil {
		vector.Close()
		lexical.Close()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	conversations, err := store.New(cfg.ConversationsDB)
	if err != nil {
		vector.Close()
		lexical.Close()
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	products := make([]retrieval.Product, len(cfg.Products))
	for i, p := range cfg.Products {
		products[i] = retrieval.Product{Name: p.Name, Aliases: p.Aliases}
	}

	retr := retrieval.New(catalog, lexical, vector, embedder, retrieval.Config{
		RetrieveK:        cfg.RetrieveK,
		Budget:           time.Duration(cfg.RetrievalDeadlineMS) * time.Millisecond,
		HistoryExpansion: cfg.HistoryExpansion,
	})

	return &Engine{
		cfg:           cfg,
		catalog:       catalog,
		vector:        vector,
		lexical:       lexical,
		analyzer:      retrieval.NewAnalyzer(products, cfg.TopKSimple, cfg.TopKComplex),
		retriever:     retr,
		composer:      prompt.NewComposer(cfg.Temperature, cfg.MaxOutputTokens),
		dispatcher:    dispatcher,
		conversations: conversations,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		tracer:        otel.Tracer("verifyr"),
	}, nil
}

// Query answers one question: analyze, retrieve, generate, extract
// citations, persist the turn. A fatal stage failure appends nothing.
func (e *Engine) Query(ctx context.Context, q Query) (*QueryResponse, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	question := strings.TrimSpace(q.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if utf8.RuneCountInString(q.Question) > maxQuestionChars {
		return nil, fmt.Errorf("%w: %d characters, limit %d", ErrQuestionTooLong, utf8.RuneCountInString(q.Question), maxQuestionChars)
	}
	if q.ModelID != "" && !e.dispatcher.Has(q.ModelID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, q.ModelID)
	}
	language := q.Language
	if language == "" {
		language = "en"
	}

	if !e.sem.TryAcquire(1) {
		return nil, ErrOverloaded
	}
	defer e.sem.Release(1)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.RequestDeadlineMS)*time.Millisecond)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "query",
		trace.WithAttributes(attribute.String("language", language)))
	defer span.End()

	conversationID, history, err := e.resolveConversation(ctx, q, language)
	if err != nil {
		return nil, err
	}

	analysis := e.analyzer.Analyze(question)
	span.SetAttributes(
		attribute.Bool("comparison", analysis.IsComparison),
		attribute.Int("top_k", analysis.TopK),
		attribute.StringSlice("target_products", analysis.TargetProducts),
	)

	retrCtx, retrSpan := e.tracer.Start(ctx, "retrieve")
	result, err := e.retriever.Retrieve(retrCtx, question, history, analysis)
	retrSpan.End()
	if err != nil {
		return nil, e.mapDeadline(ctx, err)
	}

	chunks := make([]*chunker.Chunk, len(result.Candidates))
	for i, c := range result.Candidates {
		chunks[i] = c.Chunk
	}

	prompts := e.composer.Compose(question, language, chunks, analysis.TargetProducts)

	genCtx, genSpan := e.tracer.Start(ctx, "generate")
	gen, err := e.dispatcher.Generate(genCtx, q.ModelID, []llm.Message{
		{Role: "system", Content: prompts.System},
		{Role: "user", Content: prompts.User},
	}, prompts.Temperature, prompts.MaxTokens)
	genSpan.End()
	if err != nil {
		return nil, e.mapDeadline(ctx, err)
	}

	sources := prompt.ExtractSources(gen.Text, chunks)

	err = e.conversations.AppendTurn(ctx, conversationID,
		store.Message{Role: store.RoleUser, Content: question},
		store.Message{
			Role:      store.RoleAssistant,
			Content:   gen.Text,
			Sources:   sources,
			Model:     gen.Model,
			TokensIn:  gen.TokensIn,
			TokensOut: gen.TokensOut,
			CostUSD:   gen.CostUSD,
		})
	if err != nil {
		return nil, e.mapDeadline(ctx, err)
	}

	elapsed := time.Since(start)
	slog.Info("query answered",
		"conversation_id", conversationID,
		"model", gen.Model,
		"sources", len(sources),
		"tokens_in", gen.TokensIn,
		"tokens_out", gen.TokensOut,
		"cost_usd", gen.CostUSD,
		"degraded", result.Degraded,
		"elapsed_ms", elapsed.Milliseconds())

	return &QueryResponse{
		Answer:            gen.Text,
		Sources:           sources,
		ConversationID:    conversationID,
		ResponseTimeMS:    elapsed.Milliseconds(),
		ModelUsed:         gen.Model,
		TokensUsed:        TokensUsed{Input: gen.TokensIn, Output: gen.TokensOut},
		CostUSD:           gen.CostUSD,
		RetrievalDegraded: result.Degraded,
	}, nil
}

// resolveConversation loads or creates the conversation for a query and
// returns its id plus prior user turns (for history expansion).
func (e *Engine) resolveConversation(ctx context.Context, q Query, language string) (string, []string, error) {
	if q.ConversationID == "" {
		modelID := q.ModelID
		if modelID == "" {
			modelID = e.dispatcher.DefaultModel()
		}
		id, err := e.conversations.Create(ctx, q.Requester.UserID, language, modelID)
		if err != nil {
			return "", nil, err
		}
		return id, nil, nil
	}

	if _, err := uuid.Parse(q.ConversationID); err != nil {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidConversationID, q.ConversationID)
	}
	conv, err := e.conversations.Get(ctx, q.ConversationID, q.Requester)
	if err != nil {
		return "", nil, err
	}

	var history []string
	for _, m := range conv.Messages {
		if m.Role == store.RoleUser {
			history = append(history, m.Content)
		}
	}
	return conv.ID, history, nil
}

// mapDeadline folds the request deadline into ErrTimeout so callers see one
// timeout kind regardless of which stage the deadline interrupted.
func (e *Engine) mapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// Products returns the known product names from the chunk catalog.
func (e *Engine) Products() []string {
	return e.catalog.Products()
}

// Conversations lists conversation metadata visible to the requester.
func (e *Engine) Conversations(ctx context.Context, req store.Requester) ([]store.Conversation, error) {
	return e.conversations.List(ctx, req)
}

// Conversation returns a full conversation if the requester may read it.
func (e *Engine) Conversation(ctx context.Context, id string, req store.Requester) (*store.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
	return e.conversations.Get(ctx, id, req)
}

// CheckHealth reports the state of the engine's backing artifacts.
func (e *Engine) CheckHealth(ctx context.Context) Health {
	h := Health{Chunks: e.catalog.Len()}

	if e.vector != nil {
		if _, err := e.vector.Count(ctx); err == nil {
			h.VectorIndex = true
		}
	}
	if e.lexical != nil {
		if _, err := e.lexical.Count(); err == nil {
			h.LexicalIndex = true
		}
	}
	if e.conversations != nil && e.conversations.Ping(ctx) == nil {
		h.Store = true
	}

	h.Status = "ok"
	if !h.VectorIndex || !h.LexicalIndex || !h.Store {
		h.Status = "degraded"
	}
	return h
}

// Close releases the index handles and the conversation store.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	var errs []error
	if e.vector != nil {
		errs = append(errs, e.vector.Close())
	}
	if e.lexical != nil {
		errs = append(errs, e.lexical.Close())
	}
	if e.conversations != nil {
		errs = append(errs, e.conversations.Close())
	}
	return errors.Join(errs...)
}
