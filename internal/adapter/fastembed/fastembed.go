//go:build cgo

package fastembed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"prodsync/apps/backend/internal/embedding"
)

type Embedder struct {
	model     *fastembed.FlagEmbedding
	dimension int
	mu        sync.Mutex
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	info, err := resolve(cfg.Model)
	if err != nil {
		return nil, err
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastembed.EmbeddingModel(info.name),
		CacheDir:             cfg.CacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	slog.Info("fastembed model loaded", "model", info.name, "dimension", info.dimension)
	return &Embedder{model: flagEmbed, dimension: info.dimension}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, embedding.Unavailable(err)
	}

	// The ONNX session is not safe for concurrent use.
	e.mu.Lock()
	defer e.mu.Unlock()

	vectors, err := e.model.Embed([]string{text}, 1)
	if err != nil {
		return nil, embedding.Unavailable(err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", embedding.ErrUnavailable)
	}
	return vectors[0], nil
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}
