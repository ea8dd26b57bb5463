// Package vector provides common interfaces for vector index implementations.
package vector

import "context"

// Match is one nearest-neighbor hit from a similarity search.
type Match struct {
	ID         string
	Similarity float64
}

// Index defines the interface for namespaced vector similarity search.
// A namespace corresponds to one entity collection; ids are record ids
// in that collection.
type Index interface {
	// Add inserts or replaces a vector under the given namespace and id.
	Add(ctx context.Context, namespace, id string, embedding []float32) error

	// Remove deletes a vector. Removing an absent id is a no-op.
	Remove(ctx context.Context, namespace, id string) error

	// Search returns up to k nearest neighbors by cosine similarity,
	// most similar first.
	Search(ctx context.Context, namespace string, embedding []float32, k int) ([]Match, error)

	// Count returns the number of vectors in a namespace.
	Count(ctx context.Context, namespace string) (int, error)
}
