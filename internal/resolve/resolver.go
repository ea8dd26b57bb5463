// Package resolve implements similarity-gated entity resolution:
// embed the candidate, search its collection for a near-enough match,
// and either reuse the existing record or create a new one.
package resolve

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/embedding"
	"github.com/thebtf/newsflow/internal/vector"
)

// CreateFunc persists a new record for an unmatched candidate and
// returns its id. Implementations must be safe for concurrent use.
type CreateFunc func(ctx context.Context, text string, embedding []float32) (string, error)

// Resolution is the outcome of resolving one candidate.
type Resolution struct {
	ID         string
	Created    bool
	Similarity float64
	Embedding  []float32
}

// Resolver resolves text candidates against one entity collection.
type Resolver struct {
	col      collections.Collection
	embedder embedding.Provider
	index    vector.Index
	create   CreateFunc
}

// NewResolver builds a resolver for the given collection.
func NewResolver(col collections.Collection, embedder embedding.Provider, index vector.Index, create CreateFunc) *Resolver {
	return &Resolver{col: col, embedder: embedder, index: index, create: create}
}

// ResolveOrCreate embeds text, searches the collection, and returns the
// best match's id when its similarity clears the collection threshold.
// Otherwise the create func runs and the new record is indexed.
func (r *Resolver) ResolveOrCreate(ctx context.Context, text string) (*Resolution, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed candidate for %s: %w", r.col.Name, err)
	}
	return r.ResolveOrCreateVec(ctx, text, vec)
}

// ResolveOrCreateVec is ResolveOrCreate with a precomputed embedding.
func (r *Resolver) ResolveOrCreateVec(ctx context.Context, text string, vec []float32) (*Resolution, error) {
	matches, err := r.index.Search(ctx, r.col.Name, vec, r.col.CandidateK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.col.Name, err)
	}

	if len(matches) > 0 && matches[0].Similarity >= r.col.Threshold {
		log.Debug().
			Str("collection", r.col.Name).
			Str("id", matches[0].ID).
			Float64("similarity", matches[0].Similarity).
			Msg("Resolved to existing record")
		return &Resolution{
			ID:         matches[0].ID,
			Similarity: matches[0].Similarity,
			Embedding:  vec,
		}, nil
	}

	id, err := r.create(ctx, text, vec)
	if err != nil {
		return nil, fmt.Errorf("create %s record: %w", r.col.Name, err)
	}
	if err := r.index.Add(ctx, r.col.Name, id, vec); err != nil {
		return nil, fmt.Errorf("index new %s record: %w", r.col.Name, err)
	}

	best := 0.0
	if len(matches) > 0 {
		best = matches[0].Similarity
	}
	log.Debug().
		Str("collection", r.col.Name).
		Str("id", id).
		Float64("best_similarity", best).
		Msg("Created new record")
	return &Resolution{ID: id, Created: true, Similarity: best, Embedding: vec}, nil
}

// Candidates returns all matches at or above minSim, most similar
// first. Used for looser candidate discovery than the create gate.
func (r *Resolver) Candidates(ctx context.Context, vec []float32, minSim float64, k int) ([]vector.Match, error) {
	if k <= 0 {
		k = r.col.CandidateK
	}
	matches, err := r.index.Search(ctx, r.col.Name, vec, k)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Similarity >= minSim {
			out = append(out, m)
		}
	}
	return out, nil
}
