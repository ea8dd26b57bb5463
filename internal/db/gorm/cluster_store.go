package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thebtf/newsflow/pkg/models"
)

// ClusterStore provides database operations for topical clusters and
// their trend projections.
type ClusterStore struct {
	db *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB}
}

// CreateClusters inserts a batch of new clusters in one multi-row
// statement. If the statement is rejected the rows are retried
// one by one so a single bad row cannot sink the whole batch. The
// returned slice is aligned with the input; a skipped row's slot is
// the empty string.
func (s *ClusterStore) CreateClusters(ctx context.Context, cs []*models.Cluster) ([]string, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(cs))

	rows := make([]*ClusterRow, len(cs))
	for i, c := range cs {
		rows[i] = fromModelCluster(c)
	}
	err := s.db.WithContext(ctx).Create(&rows).Error
	if err == nil {
		for i := range rows {
			cs[i].ID = rows[i].ID
			ids[i] = rows[i].ID
		}
		return ids, nil
	}
	log.Warn().
		Err(err).
		Int("clusters", len(cs)).
		Msg("Batch cluster insert rejected, retrying rows individually")

	for i, c := range cs {
		row := fromModelCluster(c)
		if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
			log.Warn().
				Err(err).
				Int("label", c.Label).
				Int("members", len(c.MemberIDs)).
				Msg("Failed to create cluster, skipping")
			continue
		}
		c.ID = row.ID
		ids[i] = row.ID
	}
	return ids, nil
}

// UnionMembers merges member ids into an existing cluster. When
// markReprocess is set the cluster is sent back through summarization
// and its centroid is refreshed; otherwise summary, centroid, and state
// are all left alone.
func (s *ClusterStore) UnionMembers(ctx context.Context, id string, members []string, markReprocess bool, centroid models.Vector) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ClusterRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return fmt.Errorf("load cluster %s: %w", id, err)
		}
		updates := map[string]any{
			"member_ids": row.MemberIDs.Union(members),
		}
		if markReprocess {
			updates["state"] = string(models.StateReprocess)
			if len(centroid) > 0 {
				updates["centroid"] = centroid
			}
		}
		if err := tx.Model(&ClusterRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("union cluster members %s: %w", id, err)
		}
		return nil
	})
}

// SaveAnalysis stores the summarization output for a cluster and marks
// it processed.
func (s *ClusterStore) SaveAnalysis(ctx context.Context, id string, a *models.ClusterAnalysis) error {
	updates := map[string]any{
		"summary":          a.Summary,
		"theme":            a.Theme,
		"key_points":       models.JSONStringArray(a.KeyPoints),
		"risks":            models.JSONStringArray(a.Risks),
		"opportunities":    models.JSONStringArray(a.Opportunities),
		"relevance_score":  a.RelevanceScore,
		"dispersion_score": a.DispersionScore,
		"state":            string(models.StateProcessed),
	}
	err := s.db.WithContext(ctx).Model(&ClusterRow{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("save cluster analysis %s: %w", id, err)
	}
	return nil
}

// GetCluster retrieves a cluster by id. Returns (nil, nil) when absent.
func (s *ClusterStore) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	var row ClusterRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelCluster(&row), nil
}

// ClustersNeedingProcessing returns clusters in the unprocessed or
// pending_reprocess states, oldest-first.
func (s *ClusterStore) ClustersNeedingProcessing(ctx context.Context) ([]*models.Cluster, error) {
	var rows []ClusterRow
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{string(models.StateUnprocessed), string(models.StateReprocess)}).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelClusters(rows), nil
}

// ProcessedClusters returns processed clusters with relevance at or
// above the floor, most relevant first.
func (s *ClusterStore) ProcessedClusters(ctx context.Context, minRelevance float64) ([]*models.Cluster, error) {
	var rows []ClusterRow
	err := s.db.WithContext(ctx).
		Where("state = ? AND relevance_score >= ?", string(models.StateProcessed), minRelevance).
		Order("relevance_score DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelClusters(rows), nil
}

// AllClusters returns every persisted cluster. Used to build the
// merge-classifier comparison set and the maintenance pass.
func (s *ClusterStore) AllClusters(ctx context.Context) ([]*models.Cluster, error) {
	var rows []ClusterRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelClusters(rows), nil
}

// MaxLabel returns the highest cluster label in the store, or -1 when
// no clusters exist. New batch labels are offset past it.
func (s *ClusterStore) MaxLabel(ctx context.Context) (int, error) {
	var row ClusterRow
	err := s.db.WithContext(ctx).Order("label DESC").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return row.Label, nil
}

// RefreshMemberRecency reorders a cluster's member ids newest-first by
// story creation time and stamps newest_member_at. times maps story id
// to created_at; ids with no entry keep their relative order at the
// tail. The pass is idempotent.
func (s *ClusterStore) RefreshMemberRecency(ctx context.Context, id string, times map[string]time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ClusterRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return fmt.Errorf("load cluster %s: %w", id, err)
		}

		known := make([]string, 0, len(row.MemberIDs))
		unknown := make([]string, 0)
		for _, mid := range row.MemberIDs {
			if _, ok := times[mid]; ok {
				known = append(known, mid)
			} else {
				unknown = append(unknown, mid)
			}
		}
		// Stable insertion sort keeps equal timestamps in their
		// existing order.
		for i := 1; i < len(known); i++ {
			for j := i; j > 0 && times[known[j]].After(times[known[j-1]]); j-- {
				known[j], known[j-1] = known[j-1], known[j]
			}
		}
		ordered := append(known, unknown...)

		updates := map[string]any{
			"member_ids": models.JSONStringArray(ordered),
		}
		if len(known) > 0 {
			updates["newest_member_at"] = times[known[0]].UTC()
		}
		if err := tx.Model(&ClusterRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("refresh member recency %s: %w", id, err)
		}
		return nil
	})
}

func toModelClusters(rows []ClusterRow) []*models.Cluster {
	out := make([]*models.Cluster, len(rows))
	for i := range rows {
		out[i] = toModelCluster(&rows[i])
	}
	return out
}
