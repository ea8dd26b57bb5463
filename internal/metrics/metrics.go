// Package metrics tracks pipeline counters with atomic operations.
package metrics

import "sync/atomic"

// Metrics holds run counters. All methods are safe for concurrent use.
type Metrics struct {
	runs               atomic.Int64
	runFailures        atomic.Int64
	fragmentsProcessed atomic.Int64
	fragmentsFailed    atomic.Int64
	orgsCreated        atomic.Int64
	orgsResolved       atomic.Int64
	sourcesCreated     atomic.Int64
	storiesCreated     atomic.Int64
	storiesMerged      atomic.Int64
	clustersInserted   atomic.Int64
	clustersMerged     atomic.Int64
	clustersReprocess  atomic.Int64
	clustersSummarized atomic.Int64
	trendsProjected    atomic.Int64
	embedCacheHits     atomic.Int64
	embedCacheMisses   atomic.Int64
}

// New creates a zeroed metrics set.
func New() *Metrics { return &Metrics{} }

func (m *Metrics) RunStarted()             { m.runs.Add(1) }
func (m *Metrics) RunFailed()              { m.runFailures.Add(1) }
func (m *Metrics) FragmentProcessed()      { m.fragmentsProcessed.Add(1) }
func (m *Metrics) FragmentFailed()         { m.fragmentsFailed.Add(1) }
func (m *Metrics) OrgCreated()             { m.orgsCreated.Add(1) }
func (m *Metrics) OrgResolved()            { m.orgsResolved.Add(1) }
func (m *Metrics) SourceCreated()          { m.sourcesCreated.Add(1) }
func (m *Metrics) StoryCreated()           { m.storiesCreated.Add(1) }
func (m *Metrics) StoryMerged()            { m.storiesMerged.Add(1) }
func (m *Metrics) ClustersInserted(n int)  { m.clustersInserted.Add(int64(n)) }
func (m *Metrics) ClustersMerged(n int)    { m.clustersMerged.Add(int64(n)) }
func (m *Metrics) ClustersReprocess(n int) { m.clustersReprocess.Add(int64(n)) }
func (m *Metrics) ClusterSummarized()      { m.clustersSummarized.Add(1) }
func (m *Metrics) TrendsProjected(n int)   { m.trendsProjected.Add(int64(n)) }
func (m *Metrics) EmbedCacheHit()          { m.embedCacheHits.Add(1) }
func (m *Metrics) EmbedCacheMiss()         { m.embedCacheMisses.Add(1) }

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Runs               int64 `json:"runs"`
	RunFailures        int64 `json:"run_failures"`
	FragmentsProcessed int64 `json:"fragments_processed"`
	FragmentsFailed    int64 `json:"fragments_failed"`
	OrgsCreated        int64 `json:"orgs_created"`
	OrgsResolved       int64 `json:"orgs_resolved"`
	SourcesCreated     int64 `json:"sources_created"`
	StoriesCreated     int64 `json:"stories_created"`
	StoriesMerged      int64 `json:"stories_merged"`
	ClustersInserted   int64 `json:"clusters_inserted"`
	ClustersMerged     int64 `json:"clusters_merged"`
	ClustersReprocess  int64 `json:"clusters_reprocess"`
	ClustersSummarized int64 `json:"clusters_summarized"`
	TrendsProjected    int64 `json:"trends_projected"`
	EmbedCacheHits     int64 `json:"embed_cache_hits"`
	EmbedCacheMisses   int64 `json:"embed_cache_misses"`
}

// GetSnapshot returns a consistent-enough copy for reporting.
func (m *Metrics) GetSnapshot() Snapshot {
	return Snapshot{
		Runs:               m.runs.Load(),
		RunFailures:        m.runFailures.Load(),
		FragmentsProcessed: m.fragmentsProcessed.Load(),
		FragmentsFailed:    m.fragmentsFailed.Load(),
		OrgsCreated:        m.orgsCreated.Load(),
		OrgsResolved:       m.orgsResolved.Load(),
		SourcesCreated:     m.sourcesCreated.Load(),
		StoriesCreated:     m.storiesCreated.Load(),
		StoriesMerged:      m.storiesMerged.Load(),
		ClustersInserted:   m.clustersInserted.Load(),
		ClustersMerged:     m.clustersMerged.Load(),
		ClustersReprocess:  m.clustersReprocess.Load(),
		ClustersSummarized: m.clustersSummarized.Load(),
		TrendsProjected:    m.trendsProjected.Load(),
		EmbedCacheHits:     m.embedCacheHits.Load(),
		EmbedCacheMisses:   m.embedCacheMisses.Load(),
	}
}
