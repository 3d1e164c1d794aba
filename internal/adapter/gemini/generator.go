package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrAnswerGeneration marks language-model failures. It is surfaced to the
// caller as-is; there is no silent fallback text.
var ErrAnswerGeneration = errors.New("answer generation failure")

// Generator is the language-model gateway used to synthesize answers from
// retrieved context. Parameters are bounded at construction.
type Generator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func NewGenerator(ctx context.Context, apiKey, model string, temperature float32, maxTokens int32, opts ...option.ClientOption) (*Generator, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnswerGeneration, err)
	}
	return &Generator{client: client, model: model, temperature: temperature, maxTokens: maxTokens}, nil
}

// Generate runs a single model call. Retry policy belongs to the caller.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(g.temperature)
	m.SetMaxOutputTokens(g.maxTokens)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "error", err, "model", g.model)
		return "", fmt.Errorf("%w: %v", ErrAnswerGeneration, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates returned", ErrAnswerGeneration)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}
