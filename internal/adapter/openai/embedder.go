// Package openai talks to any OpenAI-compatible endpoint through langchaingo,
// including local servers that ignore the token.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"prodsync/apps/backend/internal/embedding"
)

type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
}

func (c Config) token() string {
	// Local OpenAI-compatible services accept any token.
	if c.APIKey == "" {
		return "none"
	}
	return c.APIKey
}

type Embedder struct {
	embedder embeddings.Embedder
	model    string
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.EmbedModel == "" {
		return nil, fmt.Errorf("openai embedding model not configured")
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.token()),
		openai.WithEmbeddingModel(cfg.EmbedModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Embedder{embedder: embedder, model: cfg.EmbedModel}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, embedding.Unavailable(err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", embedding.ErrUnavailable)
	}
	return vectors[0], nil
}
