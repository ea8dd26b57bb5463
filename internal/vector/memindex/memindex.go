// Package memindex implements an in-process vector index with exact
// cosine search. The corpus is small enough that brute force beats the
// operational cost of an external vector store; the index is hydrated
// from the database at startup.
package memindex

import (
	"context"
	"sort"
	"sync"

	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/vecmath"
)

// Index is a thread-safe in-memory vector index keyed by namespace.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]map[string][]float32
}

// New creates an empty index.
func New() *Index {
	return &Index{namespaces: make(map[string]map[string][]float32)}
}

// Add inserts or replaces a vector. The slice is copied so callers may
// reuse their buffer.
func (ix *Index) Add(ctx context.Context, namespace, id string, embedding []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ns, ok := ix.namespaces[namespace]
	if !ok {
		ns = make(map[string][]float32)
		ix.namespaces[namespace] = ns
	}
	ns[id] = vec
	return nil
}

// Remove deletes a vector. Removing an absent id is a no-op.
func (ix *Index) Remove(ctx context.Context, namespace, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ns, ok := ix.namespaces[namespace]; ok {
		delete(ns, id)
	}
	return nil
}

// Search scans the namespace and returns up to k matches by cosine
// similarity, most similar first. Ties break by id for determinism.
func (ix *Index) Search(ctx context.Context, namespace string, embedding []float32, k int) ([]vector.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	ns := ix.namespaces[namespace]
	matches := make([]vector.Match, 0, len(ns))
	for id, vec := range ns {
		matches = append(matches, vector.Match{
			ID:         id,
			Similarity: vecmath.Cosine(embedding, vec),
		})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of vectors in a namespace.
func (ix *Index) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.namespaces[namespace]), nil
}

var _ vector.Index = (*Index)(nil)
