package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/backend/internal/vectorstore"
)

// ErrInvalidQuery rejects empty or whitespace-only queries before any
// external call is made.
var ErrInvalidQuery = errors.New("invalid query")

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
}

type VectorStore interface {
	QuerySimilar(ctx context.Context, queryVector []float32, topK int, f vectorstore.Filters) ([]vectorstore.Match, error)
}

type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options bound retrieval and generation behavior.
type Options struct {
	TopK            int
	ContextBudget   int // max chars of assembled context
	EmbedTimeout    time.Duration
	QueryTimeout    time.Duration
	GenerateTimeout time.Duration
}

// QueryOptions narrow a single request. ContainerIDs is the caller's
// authorization scope and must already be validated by the transport layer.
type QueryOptions struct {
	TopK         *int
	ContainerIDs []string
}

// Answer is a grounded response: the generated text plus the ids of the
// source messages whose chunks informed it.
type Answer struct {
	Answer    string   `json:"answer"`
	SourceIDs []string `json:"source_ids"`
}

const systemPrompt = `You are an assistant for a team chat application. Answer the user's question using the chat message history provided as context. Prefer the context over your own knowledge and mention when the history does not cover the question. Be concise.`

// Service answers questions over the embedded message history. The query is
// embedded with the same pinned model as ingestion; results from other model
// versions are filtered out at the store, never silently mixed in.
type Service struct {
	embedder  Embedder
	store     VectorStore
	generator Generator
	logger    *QueryLogger
	opts      Options
}

func NewService(e Embedder, vs VectorStore, g Generator, l *QueryLogger, opts Options) *Service {
	return &Service{embedder: e, store: vs, generator: g, logger: l, opts: opts}
}

// Search returns ranked raw matches without language-model synthesis.
func (s *Service) Search(ctx context.Context, query string, opts *QueryOptions) ([]vectorstore.Match, error) {
	start := time.Now()
	matches, err := s.retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "search", query, len(matches), nil, time.Since(start))
	return matches, nil
}

// Ask retrieves context and synthesizes a grounded answer. Zero retrieved
// chunks is not an error: the model is told there is no relevant history and
// answers from its own knowledge.
func (s *Service) Ask(ctx context.Context, query string, opts *QueryOptions) (*Answer, error) {
	start := time.Now()

	matches, err := s.retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	contextBlock, sourceIDs := s.assembleContext(matches)
	userPrompt := buildPrompt(contextBlock, query)

	// Once the model call is issued it runs to completion or timeout even if
	// the caller disconnects.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.GenerateTimeout)
	defer cancel()

	answerText, err := s.generator.Generate(genCtx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	s.log(ctx, "ask", query, len(matches), sourceIDs, time.Since(start))
	return &Answer{Answer: answerText, SourceIDs: sourceIDs}, nil
}

func (s *Service) retrieve(ctx context.Context, query string, opts *QueryOptions) ([]vectorstore.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}

	topK := s.opts.TopK
	var containers []string
	if opts != nil {
		if opts.TopK != nil && *opts.TopK > 0 {
			topK = *opts.TopK
		}
		containers = opts.ContainerIDs
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	vectors, err := s.embedder.EmbedTexts(embedCtx, []string{query})
	cancel()
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	return s.store.QuerySimilar(queryCtx, vectors[0], topK, vectorstore.Filters{
		ContainerIDs: containers,
		ModelVersion: s.embedder.ModelVersion(),
	})
}

// assembleContext concatenates chunk texts in descending similarity order,
// each tagged with its source message id, truncated to the char budget.
// Source ids come back deduplicated in first-use order for citations.
func (s *Service) assembleContext(matches []vectorstore.Match) (string, []string) {
	if len(matches) == 0 {
		return "", []string{}
	}

	var sb strings.Builder
	sourceIDs := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))

	for _, m := range matches {
		line := fmt.Sprintf("[message %s] %s\n", m.Metadata.MessageID, m.Metadata.Text)
		if sb.Len() > 0 && sb.Len()+len(line) > s.opts.ContextBudget {
			break
		}
		sb.WriteString(line)
		if !seen[m.Metadata.MessageID] {
			seen[m.Metadata.MessageID] = true
			sourceIDs = append(sourceIDs, m.Metadata.MessageID)
		}
	}
	return sb.String(), sourceIDs
}

func buildPrompt(contextBlock, query string) string {
	if contextBlock == "" {
		contextBlock = "(no relevant messages found)"
	}
	return fmt.Sprintf("Context from chat history:\n%s\nQuestion: %s", contextBlock, query)
}

func (s *Service) log(ctx context.Context, mode, query string, numResults int, sourceIDs []string, duration time.Duration) {
	if s.logger == nil {
		return
	}
	s.logger.Log(ctx, QueryLogEntry{
		Mode:       mode,
		Query:      query,
		NumResults: numResults,
		SourceIDs:  sourceIDs,
		Duration:   duration,
	})
}
