// Package embedding holds the provider-neutral pieces of text embedding:
// the error taxonomy and call guards shared by every provider adapter.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the provider cannot produce a vector right
// now. Callers treat it as transient.
var ErrUnavailable = errors.New("embedding unavailable")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Guarded bounds every call with a timeout, classifies failures as
// ErrUnavailable and rejects vectors of the wrong size.
type Guarded struct {
	next    Embedder
	timeout time.Duration
	dim     int
}

// WithTimeout wraps e. dim <= 0 disables the dimension check.
func WithTimeout(e Embedder, timeout time.Duration, dim int) *Guarded {
	return &Guarded{next: e, timeout: timeout, dim: dim}
}

func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	vec, err := g.next.Embed(ctx, text)
	if err != nil {
		return nil, Unavailable(err)
	}
	if err := CheckDimension(vec, g.dim); err != nil {
		return nil, err
	}
	return vec, nil
}

// CheckDimension fails with ErrUnavailable when vec does not have dim entries.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: provider returned an empty vector", ErrUnavailable)
	}
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: got %d dimensions, collection expects %d", ErrUnavailable, len(vec), dim)
	}
	return nil
}
