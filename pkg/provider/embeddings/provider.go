// Package embeddings turns transcribed answers into vectors so the store can
// find similar answers to the same question.
//
// The analysis store keeps vectors in a fixed-width pgvector column, so a
// provider must always return [Provider.Dimensions] values.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("embeddings: text is empty")

// ErrDimensionMismatch is returned when a backend answers with a vector of
// an unexpected width.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider is a text embedding backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the width of every vector Embed returns.
	Dimensions() int

	// ModelID names the embedding model, e.g. "text-embedding-3-small".
	ModelID() string
}

// CheckDimensions returns an error wrapping [ErrDimensionMismatch] unless vec
// has exactly want values.
func CheckDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
