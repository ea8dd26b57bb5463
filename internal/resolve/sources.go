package resolve

import (
	"context"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/embedding"
	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/models"
)

// SourceStore is the slice of the entity store the source resolver
// needs.
type SourceStore interface {
	InsertSource(ctx context.Context, src *models.Source) (string, error)
}

// SourceResolver resolves publication names to canonical source
// records. Sources carry no natural key; dedup is purely similarity.
type SourceResolver struct {
	resolver *Resolver
}

// NewSourceResolver wires the source resolution path.
func NewSourceResolver(col collections.Collection, embedder embedding.Provider, index vector.Index, store SourceStore) *SourceResolver {
	r := &SourceResolver{}
	r.resolver = NewResolver(col, embedder, index, func(ctx context.Context, name string, vec []float32) (string, error) {
		return store.InsertSource(ctx, &models.Source{Name: name, Embedding: vec})
	})
	return r
}

// Resolve returns the canonical source id for a publication name.
func (r *SourceResolver) Resolve(ctx context.Context, name string) (string, error) {
	res, err := r.resolver.ResolveOrCreate(ctx, name)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}
