// Package pipeline orchestrates one end-to-end run: resolve pending
// fragments into canonical entities and stories, cluster the recent
// story pool, reconcile new clusters with persisted ones, summarize
// what changed, and regenerate the trend projection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/cluster"
	"github.com/thebtf/newsflow/internal/enrich"
	"github.com/thebtf/newsflow/internal/metrics"
	"github.com/thebtf/newsflow/internal/resolve"
	"github.com/thebtf/newsflow/internal/server/sse"
	"github.com/thebtf/newsflow/internal/trends"
	"github.com/thebtf/newsflow/pkg/models"
)

// ErrAlreadyRunning is returned when a run is requested while another
// is in flight. Runs are serialized; overlapping runs would race on the
// story pool.
var ErrAlreadyRunning = errors.New("pipeline run already in progress")

// EntityStore is the slice of the entity store the pipeline needs.
type EntityStore interface {
	PendingFragments(ctx context.Context, limit int) ([]*models.Fragment, error)
	MarkFragmentProcessed(ctx context.Context, id string) error
	FragmentsByIDs(ctx context.Context, ids []string) ([]*models.Fragment, error)
	StoriesSince(ctx context.Context, cutoff time.Time) ([]*models.Story, error)
	StoriesByIDs(ctx context.Context, ids []string) ([]*models.Story, error)
	StoryTimes(ctx context.Context, ids []string) (map[string]time.Time, error)
}

// ClusterStore is the slice of the cluster store the pipeline needs.
type ClusterStore interface {
	MaxLabel(ctx context.Context) (int, error)
	ClustersNeedingProcessing(ctx context.Context) ([]*models.Cluster, error)
	ProcessedClusters(ctx context.Context, minRelevance float64) ([]*models.Cluster, error)
	AllClusters(ctx context.Context) ([]*models.Cluster, error)
	SaveAnalysis(ctx context.Context, id string, a *models.ClusterAnalysis) error
	RefreshMemberRecency(ctx context.Context, id string, times map[string]time.Time) error
}

// TrendStore is the slice of the trend store the pipeline needs.
type TrendStore interface {
	ReplaceTrends(ctx context.Context, ts []*models.Trend) error
}

// Config tunes a pipeline run.
type Config struct {
	Workers          int
	MemberPoolWindow time.Duration
	BatchLimit       int
}

// Deps bundles everything a run needs.
type Deps struct {
	Entities    EntityStore
	Clusters    ClusterStore
	Trends      TrendStore
	Orgs        *resolve.OrganizationResolver
	Sources     *resolve.SourceResolver
	Stories     *resolve.StoryResolver
	Builder     *cluster.Builder
	Classifier  *cluster.Classifier
	Coordinator *cluster.Coordinator
	Summarizer  enrich.Summarizer
	Projector   *trends.Projector
	Metrics     *metrics.Metrics
	Events      *sse.Broadcaster
}

// RunResult reports what one run did.
type RunResult struct {
	FragmentsResolved int           `json:"fragments_resolved"`
	FragmentsFailed   int           `json:"fragments_failed"`
	DuplicatesDropped int           `json:"duplicates_dropped"`
	PoolSize          int           `json:"pool_size"`
	ClustersBuilt     int           `json:"clusters_built"`
	ClustersInserted  int           `json:"clusters_inserted"`
	ClustersMerged    int           `json:"clusters_merged"`
	ClustersReproc    int           `json:"clusters_reprocessed"`
	Summarized        int           `json:"clusters_summarized"`
	Trends            int           `json:"trends_projected"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Pipeline runs the stages in order. Safe for concurrent Run calls:
// only one proceeds, the rest get ErrAlreadyRunning.
type Pipeline struct {
	cfg     Config
	deps    Deps
	running atomic.Bool
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MemberPoolWindow <= 0 {
		cfg.MemberPoolWindow = 72 * time.Hour
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Run executes one full pass.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	start := time.Now()
	p.deps.Metrics.RunStarted()
	p.broadcast(sse.Event{Type: "run_started"})
	res := &RunResult{}

	stages := []struct {
		name string
		fn   func(context.Context, *RunResult) error
	}{
		{"resolve_fragments", p.resolveFragments},
		{"build_and_persist_clusters", p.buildAndPersist},
		{"process_clusters", p.processClusters},
		{"refresh_recency", p.refreshRecency},
		{"project_trends", p.projectTrends},
	}
	for _, stage := range stages {
		stageStart := time.Now()
		if err := stage.fn(ctx, res); err != nil {
			p.deps.Metrics.RunFailed()
			err = fmt.Errorf("stage %s: %w", stage.name, err)
			p.broadcast(sse.Event{Type: "run_failed", Payload: err.Error()})
			return res, err
		}
		log.Debug().
			Str("stage", stage.name).
			Dur("elapsed", time.Since(stageStart)).
			Msg("Pipeline stage complete")
	}

	res.Elapsed = time.Since(start)
	log.Info().
		Int("fragments", res.FragmentsResolved).
		Int("clusters_built", res.ClustersBuilt).
		Int("summarized", res.Summarized).
		Int("trends", res.Trends).
		Dur("elapsed", res.Elapsed).
		Msg("Pipeline run complete")
	p.broadcast(sse.Event{Type: "run_complete", Payload: res})
	return res, nil
}

// broadcast emits a run event to SSE subscribers. Every run produces
// events, whether triggered by the scheduler or the admin endpoint.
func (p *Pipeline) broadcast(ev sse.Event) {
	if p.deps.Events != nil {
		p.deps.Events.Broadcast(ev)
	}
}

// resolveFragments lands every pending fragment on canonical entities
// and a story. Exact duplicates within the batch are consumed without
// resolution. Per-fragment failures leave the fragment pending for the
// next run.
func (p *Pipeline) resolveFragments(ctx context.Context, res *RunResult) error {
	fragments, err := p.deps.Entities.PendingFragments(ctx, p.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("load pending fragments: %w", err)
	}
	if len(fragments) == 0 {
		return nil
	}

	// Batch-level exact-duplicate pass: later copies of the same
	// normalized text are consumed outright.
	seen := make(map[string]bool, len(fragments))
	batch := fragments[:0]
	for _, f := range fragments {
		key := f.DedupKey()
		if key != "" && seen[key] {
			res.DuplicatesDropped++
			if err := p.deps.Entities.MarkFragmentProcessed(ctx, f.ID); err != nil {
				log.Warn().Err(err).Str("fragment_id", f.ID).Msg("Failed to consume duplicate fragment")
			}
			continue
		}
		seen[key] = true
		batch = append(batch, f)
	}

	results, err := resolve.Map(ctx, p.cfg.Workers, batch, p.resolveOne)
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Err != nil {
			res.FragmentsFailed++
			p.deps.Metrics.FragmentFailed()
			log.Warn().
				Err(r.Err).
				Str("fragment_id", batch[i].ID).
				Msg("Fragment resolution failed, will retry next run")
			continue
		}
		res.FragmentsResolved++
		p.deps.Metrics.FragmentProcessed()
	}
	return nil
}

// resolveOne resolves a single fragment: organizations from its
// instrument mentions, the source from its publication name, then the
// story. The fragment is marked processed only after all three land.
func (p *Pipeline) resolveOne(ctx context.Context, f *models.Fragment) (struct{}, error) {
	var none struct{}

	orgIDs := make([]string, 0, len(f.Instruments))
	for _, mention := range f.Instruments {
		id, err := p.deps.Orgs.Resolve(ctx, mention)
		if err != nil {
			return none, fmt.Errorf("resolve organization %q: %w", mention, err)
		}
		orgIDs = append(orgIDs, id)
	}

	var sourceIDs []string
	if f.SourceName != "" {
		id, err := p.deps.Sources.Resolve(ctx, f.SourceName)
		if err != nil {
			return none, fmt.Errorf("resolve source %q: %w", f.SourceName, err)
		}
		sourceIDs = []string{id}
	}

	storyRes, err := p.deps.Stories.Resolve(ctx, f, orgIDs, sourceIDs)
	if err != nil {
		return none, fmt.Errorf("resolve story: %w", err)
	}
	if storyRes.Created {
		p.deps.Metrics.StoryCreated()
	} else {
		p.deps.Metrics.StoryMerged()
	}

	if err := p.deps.Entities.MarkFragmentProcessed(ctx, f.ID); err != nil {
		return none, fmt.Errorf("mark fragment processed: %w", err)
	}
	return none, nil
}

// buildAndPersist clusters the recent story pool and reconciles the
// result with persisted clusters.
func (p *Pipeline) buildAndPersist(ctx context.Context, res *RunResult) error {
	cutoff := time.Now().Add(-p.cfg.MemberPoolWindow)
	pool, err := p.deps.Entities.StoriesSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load story pool: %w", err)
	}
	res.PoolSize = len(pool)
	if len(pool) == 0 {
		return nil
	}

	items := make([]cluster.Item, 0, len(pool))
	for _, s := range pool {
		if len(s.Embedding) == 0 {
			continue
		}
		items = append(items, cluster.Item{
			ID:        s.ID,
			Vec:       s.Embedding,
			CreatedAt: s.CreatedAt,
		})
	}

	maxLabel, err := p.deps.Clusters.MaxLabel(ctx)
	if err != nil {
		return fmt.Errorf("load max cluster label: %w", err)
	}

	built := p.deps.Builder.Build(items, maxLabel+1)
	res.ClustersBuilt = len(built)
	if len(built) == 0 {
		return nil
	}

	classified, err := p.deps.Classifier.Classify(ctx, built)
	if err != nil {
		return fmt.Errorf("classify clusters: %w", err)
	}
	stats, err := p.deps.Coordinator.Persist(ctx, classified)
	if err != nil {
		return fmt.Errorf("persist clusters: %w", err)
	}
	res.ClustersInserted = stats.Inserted
	res.ClustersMerged = stats.Merged
	res.ClustersReproc = stats.Reprocessed
	p.deps.Metrics.ClustersInserted(stats.Inserted)
	p.deps.Metrics.ClustersMerged(stats.Merged)
	p.deps.Metrics.ClustersReprocess(stats.Reprocessed)
	return nil
}

// processClusters summarizes every cluster in the unprocessed or
// pending_reprocess states. Per-cluster failures leave the cluster in
// its current state for the next run.
func (p *Pipeline) processClusters(ctx context.Context, res *RunResult) error {
	pending, err := p.deps.Clusters.ClustersNeedingProcessing(ctx)
	if err != nil {
		return fmt.Errorf("load clusters needing processing: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	results, err := resolve.Map(ctx, p.cfg.Workers, pending, p.summarizeOne)
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Err != nil {
			log.Warn().
				Err(r.Err).
				Str("cluster_id", pending[i].ID).
				Msg("Cluster summarization failed, will retry next run")
			continue
		}
		res.Summarized++
		p.deps.Metrics.ClusterSummarized()
	}
	return nil
}

func (p *Pipeline) summarizeOne(ctx context.Context, c *models.Cluster) (struct{}, error) {
	var none struct{}

	texts, err := p.memberTexts(ctx, c)
	if err != nil {
		return none, err
	}
	if len(texts) == 0 {
		return none, fmt.Errorf("cluster %s has no member texts", c.ID)
	}

	analysis, err := p.deps.Summarizer.SummarizeCluster(ctx, texts)
	if err != nil {
		return none, fmt.Errorf("summarize: %w", err)
	}
	if err := p.deps.Clusters.SaveAnalysis(ctx, c.ID, analysis); err != nil {
		return none, fmt.Errorf("save analysis: %w", err)
	}
	return none, nil
}

// memberTexts gathers one representative fragment text per member
// story, newest members first.
func (p *Pipeline) memberTexts(ctx context.Context, c *models.Cluster) ([]string, error) {
	stories, err := p.deps.Entities.StoriesByIDs(ctx, c.MemberIDs)
	if err != nil {
		return nil, fmt.Errorf("load member stories: %w", err)
	}
	byID := make(map[string]*models.Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	fragIDs := make([]string, 0, len(c.MemberIDs))
	for _, mid := range c.MemberIDs {
		s, ok := byID[mid]
		if !ok || len(s.FragmentIDs) == 0 {
			continue
		}
		fragIDs = append(fragIDs, s.FragmentIDs[0])
	}
	fragments, err := p.deps.Entities.FragmentsByIDs(ctx, fragIDs)
	if err != nil {
		return nil, fmt.Errorf("load member fragments: %w", err)
	}
	fragByID := make(map[string]*models.Fragment, len(fragments))
	for _, f := range fragments {
		fragByID[f.ID] = f
	}

	texts := make([]string, 0, len(fragIDs))
	for _, fid := range fragIDs {
		if f, ok := fragByID[fid]; ok {
			texts = append(texts, f.Text())
		}
	}
	return texts, nil
}

// refreshRecency reorders every cluster's members newest-first and
// stamps newest_member_at. The pass is idempotent; running it over
// untouched clusters is a cheap no-op rewrite.
func (p *Pipeline) refreshRecency(ctx context.Context, _ *RunResult) error {
	all, err := p.deps.Clusters.AllClusters(ctx)
	if err != nil {
		return fmt.Errorf("load clusters: %w", err)
	}
	for _, c := range all {
		times, err := p.deps.Entities.StoryTimes(ctx, c.MemberIDs)
		if err != nil {
			return fmt.Errorf("load member times for %s: %w", c.ID, err)
		}
		if err := p.deps.Clusters.RefreshMemberRecency(ctx, c.ID, times); err != nil {
			log.Warn().Err(err).Str("cluster_id", c.ID).Msg("Failed to refresh member recency")
		}
	}
	return nil
}

// projectTrends regenerates the trend set from processed clusters.
func (p *Pipeline) projectTrends(ctx context.Context, res *RunResult) error {
	processed, err := p.deps.Clusters.ProcessedClusters(ctx, 0)
	if err != nil {
		return fmt.Errorf("load processed clusters: %w", err)
	}
	ts := p.deps.Projector.Project(processed, time.Now())
	if err := p.deps.Trends.ReplaceTrends(ctx, ts); err != nil {
		return fmt.Errorf("replace trends: %w", err)
	}
	res.Trends = len(ts)
	p.deps.Metrics.TrendsProjected(len(ts))
	return nil
}
