package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/enrich"
	"github.com/thebtf/newsflow/internal/vector/memindex"
	"github.com/thebtf/newsflow/pkg/models"
)

// fakeOrgStore keys organizations by their natural key, mimicking the
// unique index.
type fakeOrgStore struct {
	byKey   map[[2]string]*models.Organization
	byID    map[string]*models.Organization
	nextID  int
	updates map[string]map[string]any
}

func newFakeOrgStore() *fakeOrgStore {
	return &fakeOrgStore{
		byKey:   make(map[[2]string]*models.Organization),
		byID:    make(map[string]*models.Organization),
		updates: make(map[string]map[string]any),
	}
}

func (s *fakeOrgStore) UpsertOrganization(_ context.Context, org *models.Organization) (string, bool, error) {
	name, ticker := org.NaturalKey()
	key := [2]string{name, ticker}
	if existing, ok := s.byKey[key]; ok {
		return existing.ID, false, nil
	}
	s.nextID++
	cp := *org
	cp.ID = string(rune('a' + s.nextID - 1))
	s.byKey[key] = &cp
	s.byID[cp.ID] = &cp
	return cp.ID, true, nil
}

func (s *fakeOrgStore) UpdateOrganization(_ context.Context, id string, updates map[string]any) error {
	s.updates[id] = updates
	return nil
}

func (s *fakeOrgStore) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	return s.byID[id], nil
}

type fakeEnricher struct {
	result *enrich.Enrichment
	calls  int
}

func (f *fakeEnricher) EnrichOrganization(context.Context, string) (*enrich.Enrichment, error) {
	f.calls++
	return f.result, nil
}

func orgCollection() collections.Collection {
	return collections.Collection{Name: collections.Organizations, Threshold: 0.9, CandidateK: 5}
}

func TestOrganizationResolveUnmatchedEnrichesAndCreates(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vecs: map[string][]float32{"ACME shares": {1, 0}}}
	store := newFakeOrgStore()
	enricher := &fakeEnricher{result: &enrich.Enrichment{Name: "Acme Corp", Ticker: "ACME", Public: true}}

	r := NewOrganizationResolver(orgCollection(), emb, memindex.New(), store, enricher)

	id, err := r.Resolve(ctx, "ACME shares")
	require.NoError(t, err)
	assert.Equal(t, 1, enricher.calls)

	org := store.byID[id]
	require.NotNil(t, org)
	assert.Equal(t, "Acme Corp", org.Name)
	assert.True(t, org.Public)
}

func TestOrganizationResolveSimilarSkipsEnrichment(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vecs: map[string][]float32{
		"ACME shares":  {1, 0},
		"shares, ACME": {0.999, 0.02},
	}}
	store := newFakeOrgStore()
	enricher := &fakeEnricher{result: &enrich.Enrichment{Name: "Acme Corp"}}

	r := NewOrganizationResolver(orgCollection(), emb, memindex.New(), store, enricher)

	first, err := r.Resolve(ctx, "ACME shares")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "shares, ACME")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, enricher.calls, "similar mention must not re-enrich")
}

func TestOrganizationNaturalKeyConflictMerges(t *testing.T) {
	// Two mentions with orthogonal embeddings both pass the similarity
	// gate as "new", but enrichment canonicalizes them to the same
	// natural key. The second lands on the first row via merge rules.
	ctx := context.Background()
	emb := &fakeEmbedder{vecs: map[string][]float32{
		"mention one": {1, 0},
		"mention two": {0, 1},
	}}
	store := newFakeOrgStore()
	enricher := &fakeEnricher{result: &enrich.Enrichment{Name: "Acme Corp", Ticker: "ACME", Sector: "Industrials"}}

	r := NewOrganizationResolver(orgCollection(), emb, memindex.New(), store, enricher)

	first, err := r.Resolve(ctx, "mention one")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "mention two")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, store.byID, 1)
}
