package pipeline

import (
	"context"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/newsflow/internal/cluster"
	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/enrich"
	"github.com/thebtf/newsflow/internal/metrics"
	"github.com/thebtf/newsflow/internal/resolve"
	"github.com/thebtf/newsflow/internal/server/sse"
	"github.com/thebtf/newsflow/internal/trends"
	"github.com/thebtf/newsflow/internal/vector/memindex"
	"github.com/thebtf/newsflow/pkg/models"
)

// memStore is an in-memory stand-in for the database stores, shared by
// the pipeline and the resolvers.
type memStore struct {
	mu        sync.Mutex
	fragments map[string]*models.Fragment
	fragOrder []string
	orgs      map[string]*models.Organization
	sources   map[string]*models.Source
	stories   map[string]*models.Story
	clusters  map[string]*models.Cluster
	trendSet  []*models.Trend
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		fragments: make(map[string]*models.Fragment),
		orgs:      make(map[string]*models.Organization),
		sources:   make(map[string]*models.Source),
		stories:   make(map[string]*models.Story),
		clusters:  make(map[string]*models.Cluster),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addFragment(f *models.Fragment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.ID = m.nextID("frag")
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	m.fragments[f.ID] = f
	m.fragOrder = append(m.fragOrder, f.ID)
}

// EntityStore

func (m *memStore) PendingFragments(_ context.Context, limit int) ([]*models.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Fragment
	for _, id := range m.fragOrder {
		f := m.fragments[id]
		if f.Include && !f.Processed {
			out = append(out, f)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkFragmentProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments[id].Processed = true
	return nil
}

func (m *memStore) FragmentsByIDs(_ context.Context, ids []string) ([]*models.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Fragment
	for _, id := range ids {
		if f, ok := m.fragments[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) StoriesSince(_ context.Context, cutoff time.Time) ([]*models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Story
	for _, s := range m.stories {
		if !s.CreatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) StoriesByIDs(_ context.Context, ids []string) ([]*models.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Story
	for _, id := range ids {
		if s, ok := m.stories[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) StoryTimes(_ context.Context, ids []string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time)
	for _, id := range ids {
		if s, ok := m.stories[id]; ok {
			out[id] = s.CreatedAt
		}
	}
	return out, nil
}

// resolve store interfaces

func (m *memStore) UpsertOrganization(_ context.Context, org *models.Organization) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ticker := org.NaturalKey()
	for _, o := range m.orgs {
		n, tk := o.NaturalKey()
		if n == name && tk == ticker {
			return o.ID, false, nil
		}
	}
	cp := *org
	cp.ID = m.nextID("org")
	m.orgs[cp.ID] = &cp
	return cp.ID, true, nil
}

func (m *memStore) UpdateOrganization(_ context.Context, id string, updates map[string]any) error {
	return nil
}

func (m *memStore) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orgs[id], nil
}

func (m *memStore) InsertSource(_ context.Context, src *models.Source) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *src
	cp.ID = m.nextID("src")
	m.sources[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) InsertStory(_ context.Context, story *models.Story) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *story
	cp.ID = m.nextID("story")
	cp.CreatedAt = time.Now().UTC()
	m.stories[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) UnionStoryRefs(_ context.Context, id string, fragmentIDs, orgIDs, sourceIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[id]
	if !ok {
		return fmt.Errorf("story %s not found", id)
	}
	s.FragmentIDs = s.FragmentIDs.Union(fragmentIDs)
	s.OrganizationIDs = s.OrganizationIDs.Union(orgIDs)
	s.SourceIDs = s.SourceIDs.Union(sourceIDs)
	s.LastUpdated = time.Now().UTC()
	return nil
}

// ClusterStore

func (m *memStore) CreateClusters(_ context.Context, cs []*models.Cluster) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		cp := *c
		cp.ID = m.nextID("cluster")
		if cp.State == "" {
			cp.State = models.StateUnprocessed
		}
		m.clusters[cp.ID] = &cp
		ids = append(ids, cp.ID)
	}
	return ids, nil
}

func (m *memStore) UnionMembers(_ context.Context, id string, members []string, markReprocess bool, centroid models.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.clusters[id]
	c.MemberIDs = c.MemberIDs.Union(members)
	if markReprocess {
		c.State = models.StateReprocess
		if len(centroid) > 0 {
			c.Centroid = centroid
		}
	}
	return nil
}

func (m *memStore) GetCluster(_ context.Context, id string) (*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clusters[id], nil
}

func (m *memStore) MaxLabel(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := -1
	for _, c := range m.clusters {
		if c.Label > max {
			max = c.Label
		}
	}
	return max, nil
}

func (m *memStore) ClustersNeedingProcessing(_ context.Context) ([]*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Cluster
	for _, c := range m.clusters {
		if c.State.NeedsProcessing() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) ProcessedClusters(_ context.Context, minRelevance float64) ([]*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Cluster
	for _, c := range m.clusters {
		if c.State == models.StateProcessed && c.RelevanceScore >= minRelevance {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) AllClusters(_ context.Context) ([]*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Cluster
	for _, c := range m.clusters {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) SaveAnalysis(_ context.Context, id string, a *models.ClusterAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.clusters[id]
	c.Summary = a.Summary
	c.Theme = a.Theme
	c.KeyPoints = a.KeyPoints
	c.RelevanceScore = a.RelevanceScore
	c.DispersionScore = a.DispersionScore
	c.State = models.StateProcessed
	return nil
}

func (m *memStore) RefreshMemberRecency(_ context.Context, id string, times map[string]time.Time) error {
	return nil
}

// TrendStore

func (m *memStore) ReplaceTrends(_ context.Context, ts []*models.Trend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trendSet = ts
	return nil
}

// fakes for the external services

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	// Deterministic 2-d unit vector from the text length.
	a := float64(len(text)%7) * 0.1
	return []float32{float32(math.Cos(a)), float32(math.Sin(a))}, nil
}

func (stubEmbedder) Dimension() int { return 2 }

type stubEnricher struct{}

func (stubEnricher) EnrichOrganization(_ context.Context, mention string) (*enrich.Enrichment, error) {
	return &enrich.Enrichment{Name: mention, Ticker: mention}, nil
}

type stubSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSummarizer) SummarizeCluster(_ context.Context, texts []string) (*models.ClusterAnalysis, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &models.ClusterAnalysis{
		Summary:        fmt.Sprintf("summary of %d stories", len(texts)),
		Theme:          "theme",
		RelevanceScore: 0.8,
	}, nil
}

func unitVec(angle float64) models.Vector {
	return models.Vector{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

func newTestPipeline(store *memStore, summarizer *stubSummarizer) *Pipeline {
	ix := memindex.New()
	emb := stubEmbedder{}

	orgCol := collections.Collection{Name: collections.Organizations, Threshold: 0.9, CandidateK: 5}
	srcCol := collections.Collection{Name: collections.Sources, Threshold: 0.9, CandidateK: 5}
	storyCol := collections.Collection{Name: collections.Stories, Threshold: 0.98, CandidateK: 5}

	// Single worker keeps entity creation deterministic: concurrent
	// resolution of the same brand-new source could insert it twice.
	return New(Config{Workers: 1, MemberPoolWindow: time.Hour}, Deps{
		Entities: store,
		Clusters: store,
		Trends:   store,
		Orgs:     resolve.NewOrganizationResolver(orgCol, emb, ix, store, stubEnricher{}),
		Sources:  resolve.NewSourceResolver(srcCol, emb, ix, store),
		Stories:  resolve.NewStoryResolver(storyCol, emb, ix, store),
		Builder: cluster.NewBuilder(cluster.BuilderConfig{
			Eps: 0.05, MinClusterSize: 2, OversizeFraction: 1,
		}),
		Classifier:  cluster.NewClassifier(cluster.ClassifierConfig{MergeThreshold: 0.9, ReprocessThreshold: 0.5}, ix),
		Coordinator: cluster.NewCoordinator(store, ix),
		Summarizer:  summarizer,
		Projector:   trends.NewProjector(0.5),
		Metrics:     metrics.New(),
	})
}

func seedFragments(store *memStore) {
	// Group one: three fragments around angle 0, far enough apart to
	// stay separate stories (pairwise cosine < 0.98) but close enough
	// to cluster. Group two: two fragments around angle 2.
	angles := map[string]float64{"a1": 0, "a2": 0.3, "a3": 0.6, "b1": 2.0, "b2": 2.3}
	for name, angle := range angles {
		store.addFragment(&models.Fragment{
			Title:       "title " + name,
			Body:        "body " + name,
			SourceName:  "Newswire",
			Instruments: models.JSONStringArray{"ACME"},
			Embedding:   unitVec(angle),
			Include:     true,
		})
	}
	// Exact duplicate of a1's text.
	store.addFragment(&models.Fragment{
		Title:     "title  A1",
		Body:      "BODY a1",
		Embedding: unitVec(0),
		Include:   true,
	})
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	summarizer := &stubSummarizer{}
	pipe := newTestPipeline(store, summarizer)
	seedFragments(store)

	res, err := pipe.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, res.FragmentsResolved)
	assert.Equal(t, 1, res.DuplicatesDropped)
	assert.Zero(t, res.FragmentsFailed)

	// One canonical organization and source despite five mentions.
	assert.Len(t, store.orgs, 1)
	assert.Len(t, store.sources, 1)

	// Five distinct stories, two clusters.
	assert.Len(t, store.stories, 5)
	assert.Equal(t, 2, res.ClustersBuilt)
	assert.Equal(t, 2, res.ClustersInserted)
	assert.Len(t, store.clusters, 2)

	// Both summarized and projected.
	assert.Equal(t, 2, res.Summarized)
	assert.Equal(t, 2, res.Trends)
	require.Len(t, store.trendSet, 2)
	for _, c := range store.clusters {
		assert.Equal(t, models.StateProcessed, c.State)
	}

	// Every fragment consumed.
	pending, err := store.PendingFragments(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPipelineSecondRunMergesIntoExisting(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	summarizer := &stubSummarizer{}
	pipe := newTestPipeline(store, summarizer)
	seedFragments(store)

	_, err := pipe.Run(ctx)
	require.NoError(t, err)
	firstCalls := summarizer.calls

	// No new fragments: the same pool re-clusters and lands on the
	// persisted clusters as merge-only, leaving summaries alone.
	res, err := pipe.Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, res.FragmentsResolved)
	assert.Equal(t, 2, res.ClustersMerged)
	assert.Zero(t, res.ClustersInserted)
	assert.Len(t, store.clusters, 2)
	assert.Equal(t, firstCalls, summarizer.calls, "merge-only must not re-summarize")
	for _, c := range store.clusters {
		assert.Equal(t, models.StateProcessed, c.State)
	}
}

func TestPipelineBroadcastsRunEvents(t *testing.T) {
	store := newMemStore()
	pipe := newTestPipeline(store, &stubSummarizer{})
	seedFragments(store)

	b := sse.NewBroadcaster()
	pipe.deps.Events = b

	subCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/events", nil).WithContext(subCtx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(rec, req)
		close(done)
	}()
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)

	// Events come out of the run itself, with no HTTP trigger involved.
	_, err := pipe.Run(context.Background())
	require.NoError(t, err)

	// A rejected overlapping run emits nothing.
	require.True(t, pipe.running.CompareAndSwap(false, true))
	_, err = pipe.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	pipe.running.Store(false)

	cancel()
	<-done

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, `"type":"run_started"`))
	assert.Equal(t, 1, strings.Count(body, `"type":"run_complete"`))
	assert.NotContains(t, body, `"type":"run_failed"`)
	assert.Contains(t, body, `"clusters_built":2`)
}

func TestPipelineRejectsConcurrentRuns(t *testing.T) {
	store := newMemStore()
	pipe := newTestPipeline(store, &stubSummarizer{})

	// Flip the guard by hand to simulate an in-flight run.
	require.True(t, pipe.running.CompareAndSwap(false, true))
	defer pipe.running.Store(false)

	_, err := pipe.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, pipe.Running())
}
