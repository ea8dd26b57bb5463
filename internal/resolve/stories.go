package resolve

import (
	"context"
	"fmt"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/embedding"
	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/models"
)

// StoryStore is the slice of the entity store the story resolver needs.
type StoryStore interface {
	InsertStory(ctx context.Context, story *models.Story) (string, error)
	UnionStoryRefs(ctx context.Context, id string, fragmentIDs, orgIDs, sourceIDs []string) error
}

// StoryResolver aggregates near-identical fragments into story records.
// The threshold is deliberately tight: only rephrasings of the same
// event should land on the same story, topical similarity is the
// clustering layer's job.
type StoryResolver struct {
	resolver *Resolver
	store    StoryStore
}

// NewStoryResolver wires the story resolution path.
func NewStoryResolver(col collections.Collection, embedder embedding.Provider, index vector.Index, store StoryStore) *StoryResolver {
	r := &StoryResolver{store: store}
	r.resolver = NewResolver(col, embedder, index, func(ctx context.Context, _ string, vec []float32) (string, error) {
		return store.InsertStory(ctx, &models.Story{Embedding: vec})
	})
	return r
}

// Resolve lands a fragment on a story: an existing one when the
// fragment is a near-duplicate, a fresh one otherwise. Either way the
// fragment's id and its resolved organization and source ids are
// unioned into the story's reference sets.
func (r *StoryResolver) Resolve(ctx context.Context, f *models.Fragment, orgIDs, sourceIDs []string) (*Resolution, error) {
	var res *Resolution
	var err error
	if len(f.Embedding) > 0 {
		res, err = r.resolver.ResolveOrCreateVec(ctx, f.Text(), f.Embedding)
	} else {
		res, err = r.resolver.ResolveOrCreate(ctx, f.Text())
	}
	if err != nil {
		return nil, err
	}

	if err := r.store.UnionStoryRefs(ctx, res.ID, []string{f.ID}, orgIDs, sourceIDs); err != nil {
		return nil, fmt.Errorf("union refs into story %s: %w", res.ID, err)
	}
	return res, nil
}
