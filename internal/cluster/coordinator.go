package cluster

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/models"
	"github.com/thebtf/newsflow/pkg/vecmath"
)

// Store is the slice of the cluster store the coordinator needs.
// CreateClusters returns ids aligned with its input; a skipped row's
// slot is the empty string.
type Store interface {
	CreateClusters(ctx context.Context, cs []*models.Cluster) ([]string, error)
	UnionMembers(ctx context.Context, id string, members []string, markReprocess bool, centroid models.Vector) error
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
}

// PersistStats counts what a persistence pass did.
type PersistStats struct {
	Inserted    int
	Merged      int
	Reprocessed int
	Failed      int
}

// Coordinator applies classified clusters to the store and keeps the
// centroid index in step. Failures are per-item: one bad cluster is
// logged and counted, the rest of the batch proceeds.
type Coordinator struct {
	store Store
	index vector.Index
}

// NewCoordinator wires the persistence side of clustering.
func NewCoordinator(store Store, index vector.Index) *Coordinator {
	return &Coordinator{store: store, index: index}
}

// Persist writes all inserts as one batched create, then applies the
// merge and reprocess updates to their target rows.
func (c *Coordinator) Persist(ctx context.Context, classified []Classification) (PersistStats, error) {
	var stats PersistStats

	inserts := make([]*models.Cluster, 0, len(classified))
	for _, cl := range classified {
		if cl.Disposition == DispositionInsert {
			inserts = append(inserts, cl.Cluster)
		}
	}
	if err := c.insertBatch(ctx, inserts, &stats); err != nil {
		return stats, err
	}

	for _, cl := range classified {
		var err error
		switch cl.Disposition {
		case DispositionInsert:
			continue
		case DispositionMergeOnly:
			err = c.store.UnionMembers(ctx, cl.MatchID, cl.Cluster.MemberIDs, false, nil)
			if err == nil {
				stats.Merged++
			}
		case DispositionReprocess:
			err = c.reprocess(ctx, cl)
			if err == nil {
				stats.Reprocessed++
			}
		default:
			err = fmt.Errorf("unknown disposition %v", cl.Disposition)
		}
		if err != nil {
			stats.Failed++
			log.Warn().
				Err(err).
				Stringer("disposition", cl.Disposition).
				Str("match_id", cl.MatchID).
				Int("members", len(cl.Cluster.MemberIDs)).
				Msg("Failed to persist cluster")
		}
	}
	return stats, ctx.Err()
}

// insertBatch creates all fresh clusters in one store call and indexes
// the centroids of the rows that landed. Rows the store skipped come
// back as empty ids and count as failures.
func (c *Coordinator) insertBatch(ctx context.Context, inserts []*models.Cluster, stats *PersistStats) error {
	if len(inserts) == 0 {
		return nil
	}
	ids, err := c.store.CreateClusters(ctx, inserts)
	if err != nil {
		return fmt.Errorf("create clusters: %w", err)
	}
	for i, cl := range inserts {
		if i >= len(ids) || ids[i] == "" {
			stats.Failed++
			log.Warn().
				Int("label", cl.Label).
				Int("members", len(cl.MemberIDs)).
				Msg("Cluster insert rejected by store")
			continue
		}
		if err := c.index.Add(ctx, collections.Clusters, ids[i], cl.Centroid); err != nil {
			stats.Failed++
			log.Warn().Err(err).Str("cluster_id", ids[i]).Msg("Failed to index cluster centroid")
			continue
		}
		stats.Inserted++
	}
	return nil
}

// reprocess unions the incoming members into the matched cluster,
// refreshes its centroid to the member-weighted mean of both, and
// flags it for re-summarization.
func (c *Coordinator) reprocess(ctx context.Context, cl Classification) error {
	existing, err := c.store.GetCluster(ctx, cl.MatchID)
	if err != nil {
		return fmt.Errorf("load matched cluster: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("matched cluster %s not found", cl.MatchID)
	}

	centroid := vecmath.WeightedMean(
		existing.Centroid, float64(len(existing.MemberIDs)),
		cl.Cluster.Centroid, float64(len(cl.Cluster.MemberIDs)),
	)
	if err := c.store.UnionMembers(ctx, cl.MatchID, cl.Cluster.MemberIDs, true, centroid); err != nil {
		return err
	}
	return c.index.Add(ctx, collections.Clusters, cl.MatchID, centroid)
}
