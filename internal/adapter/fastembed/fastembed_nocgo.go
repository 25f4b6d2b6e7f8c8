//go:build !cgo

package fastembed

import (
	"context"
)

// Embedder is a stub for builds without cgo.
type Embedder struct{}

func NewEmbedder(_ Config) (*Embedder, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *Embedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *Embedder) Dimension() int {
	return 0
}

func (e *Embedder) Close() error {
	return nil
}
