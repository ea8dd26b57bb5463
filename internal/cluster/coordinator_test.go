package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/vector/memindex"
	"github.com/thebtf/newsflow/pkg/models"
)

// fakeClusterStore keeps clusters in memory with union semantics
// matching the real store.
type fakeClusterStore struct {
	clusters    map[string]*models.Cluster
	nextID      int
	createCalls int
	skipFirst   bool
}

func newFakeClusterStore() *fakeClusterStore {
	return &fakeClusterStore{clusters: make(map[string]*models.Cluster)}
}

func (s *fakeClusterStore) CreateClusters(_ context.Context, cs []*models.Cluster) ([]string, error) {
	s.createCalls++
	ids := make([]string, len(cs))
	for i, c := range cs {
		if i == 0 && s.skipFirst {
			continue
		}
		s.nextID++
		cp := *c
		cp.ID = string(rune('A' + s.nextID - 1))
		s.clusters[cp.ID] = &cp
		ids[i] = cp.ID
	}
	return ids, nil
}

func (s *fakeClusterStore) UnionMembers(_ context.Context, id string, members []string, markReprocess bool, centroid models.Vector) error {
	c := s.clusters[id]
	c.MemberIDs = c.MemberIDs.Union(members)
	if markReprocess {
		c.State = models.StateReprocess
		if len(centroid) > 0 {
			c.Centroid = centroid
		}
	}
	return nil
}

func (s *fakeClusterStore) GetCluster(_ context.Context, id string) (*models.Cluster, error) {
	return s.clusters[id], nil
}

func TestPersistInsert(t *testing.T) {
	ctx := context.Background()
	store := newFakeClusterStore()
	ix := memindex.New()
	coord := NewCoordinator(store, ix)

	stats, err := coord.Persist(ctx, []Classification{{
		Cluster: &models.Cluster{
			MemberIDs: models.JSONStringArray{"s1", "s2"},
			Centroid:  models.Vector{1, 0},
			State:     models.StateUnprocessed,
		},
		Disposition: DispositionInsert,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Len(t, store.clusters, 1)

	// Centroid is searchable for the next batch's classification.
	n, err := ix.Count(ctx, collections.Clusters)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistBatchesInserts(t *testing.T) {
	ctx := context.Background()
	store := newFakeClusterStore()
	store.clusters["X"] = &models.Cluster{
		ID:        "X",
		MemberIDs: models.JSONStringArray{"s1"},
		Centroid:  models.Vector{1, 0},
		State:     models.StateProcessed,
	}
	ix := memindex.New()
	coord := NewCoordinator(store, ix)

	stats, err := coord.Persist(ctx, []Classification{
		{
			Cluster:     &models.Cluster{MemberIDs: models.JSONStringArray{"s2"}, Centroid: models.Vector{0, 1}},
			Disposition: DispositionInsert,
		},
		{
			Cluster:     &models.Cluster{MemberIDs: models.JSONStringArray{"s1"}, Centroid: models.Vector{0.99, 0.01}},
			Disposition: DispositionMergeOnly,
			MatchID:     "X",
		},
		{
			Cluster:     &models.Cluster{MemberIDs: models.JSONStringArray{"s3"}, Centroid: models.Vector{0, -1}},
			Disposition: DispositionInsert,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.Merged)

	// Both fresh clusters go through one store call, not one each.
	assert.Equal(t, 1, store.createCalls)
	assert.Len(t, store.clusters, 3)

	n, err := ix.Count(ctx, collections.Clusters)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPersistCountsSkippedInsertSlots(t *testing.T) {
	ctx := context.Background()
	store := newFakeClusterStore()
	store.skipFirst = true
	coord := NewCoordinator(store, memindex.New())

	stats, err := coord.Persist(ctx, []Classification{
		{
			Cluster:     &models.Cluster{MemberIDs: models.JSONStringArray{"s1"}, Centroid: models.Vector{1, 0}},
			Disposition: DispositionInsert,
		},
		{
			Cluster:     &models.Cluster{MemberIDs: models.JSONStringArray{"s2"}, Centroid: models.Vector{0, 1}},
			Disposition: DispositionInsert,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Failed)
}

func TestPersistMergeOnlyPreservesSummaryAndState(t *testing.T) {
	ctx := context.Background()
	store := newFakeClusterStore()
	store.clusters["X"] = &models.Cluster{
		ID:        "X",
		MemberIDs: models.JSONStringArray{"s1"},
		Centroid:  models.Vector{1, 0},
		Summary:   "existing summary",
		State:     models.StateProcessed,
	}
	coord := NewCoordinator(store, memindex.New())

	stats, err := coord.Persist(ctx, []Classification{{
		Cluster: &models.Cluster{
			MemberIDs: models.JSONStringArray{"s2", "s1"},
			Centroid:  models.Vector{0.99, 0.01},
		},
		Disposition: DispositionMergeOnly,
		MatchID:     "X",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Merged)

	c := store.clusters["X"]
	assert.Equal(t, models.JSONStringArray{"s1", "s2"}, c.MemberIDs)
	assert.Equal(t, "existing summary", c.Summary)
	assert.Equal(t, models.StateProcessed, c.State)
	assert.Equal(t, models.Vector{1, 0}, c.Centroid)
}

func TestPersistReprocessUnionsAndRefreshesCentroid(t *testing.T) {
	ctx := context.Background()
	store := newFakeClusterStore()
	store.clusters["X"] = &models.Cluster{
		ID:        "X",
		MemberIDs: models.JSONStringArray{"s1", "s2", "s3"},
		Centroid:  models.Vector{1, 0},
		State:     models.StateProcessed,
	}
	ix := memindex.New()
	coord := NewCoordinator(store, ix)

	stats, err := coord.Persist(ctx, []Classification{{
		Cluster: &models.Cluster{
			MemberIDs: models.JSONStringArray{"s4"},
			Centroid:  models.Vector{0, 1},
		},
		Disposition: DispositionReprocess,
		MatchID:     "X",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reprocessed)

	c := store.clusters["X"]
	assert.Equal(t, models.StateReprocess, c.State)
	assert.Equal(t, models.JSONStringArray{"s1", "s2", "s3", "s4"}, c.MemberIDs)
	// Weighted 3:1 toward the existing centroid.
	assert.InDelta(t, 0.75, float64(c.Centroid[0]), 1e-6)
	assert.InDelta(t, 0.25, float64(c.Centroid[1]), 1e-6)

	// Index entry tracks the refreshed centroid.
	n, err := ix.Count(ctx, collections.Clusters)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistUnknownMatchCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeClusterStore()
	coord := NewCoordinator(store, memindex.New())

	stats, err := coord.Persist(ctx, []Classification{{
		Cluster:     &models.Cluster{MemberIDs: models.JSONStringArray{"s1"}},
		Disposition: DispositionReprocess,
		MatchID:     "missing",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}
