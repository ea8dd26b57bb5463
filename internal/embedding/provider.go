// Package embedding turns text into dense vectors via an external
// embedding service, with a Redis cache in front.
package embedding

import "context"

// Provider produces an embedding for a piece of text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector width this provider produces.
	Dimension() int
}
