package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/pkg/models"
)

// EntityStore provides database operations for the canonical entity
// collections: organizations, sources, stories, and the fragment intake
// table.
type EntityStore struct {
	db *gorm.DB
}

// NewEntityStore creates a new entity store.
func NewEntityStore(store *Store) *EntityStore {
	return &EntityStore{db: store.DB}
}

// UpsertOrganization inserts the organization unless a row with the same
// normalized (name, ticker) natural key exists, in which case the
// existing row's id is returned. This is the primitive that keeps
// concurrent unmatched candidates from creating duplicate rows: the
// unique index arbitrates, the loser reads the winner's id.
func (s *EntityStore) UpsertOrganization(ctx context.Context, org *models.Organization) (string, bool, error) {
	row := fromModelOrganization(org)

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name_normalized"}, {Name: "ticker_normalized"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return "", false, fmt.Errorf("upsert organization %q: %w", org.Name, res.Error)
	}
	if res.RowsAffected > 0 {
		org.ID = row.ID
		return row.ID, true, nil
	}

	// Conflict: return the existing row's id.
	var existing OrganizationRow
	err := s.db.WithContext(ctx).
		Where("name_normalized = ? AND ticker_normalized = ?", row.NameNormalized, row.TickerNormalized).
		First(&existing).Error
	if err != nil {
		return "", false, fmt.Errorf("load organization after conflict %q: %w", org.Name, err)
	}
	return existing.ID, false, nil
}

// UpdateOrganization applies the given column updates to an organization.
// Used by the merge-rule pass when enrichment reports an existing record.
func (s *EntityStore) UpdateOrganization(ctx context.Context, id string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&OrganizationRow{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update organization %s: %w", id, err)
	}
	return nil
}

// GetOrganization retrieves an organization by id. Returns (nil, nil)
// when absent.
func (s *EntityStore) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var row OrganizationRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelOrganization(&row), nil
}

// ListOrganizations returns all organizations ordered oldest-first.
// Used by the duplicate-sweep maintenance routine.
func (s *EntityStore) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	var rows []OrganizationRow
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Organization, len(rows))
	for i := range rows {
		out[i] = toModelOrganization(&rows[i])
	}
	return out, nil
}

// DeleteOrganization removes an organization. Only the duplicate sweep
// deletes entities; the pipeline itself never does.
func (s *EntityStore) DeleteOrganization(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&OrganizationRow{}, "id = ?", id).Error
}

// ReplaceOrganizationRefs rewrites references to fromID with toID on
// every story, as part of merging duplicate organizations.
func (s *EntityStore) ReplaceOrganizationRefs(ctx context.Context, fromID, toID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []StoryRow
		if err := tx.Where("organization_ids LIKE ?", "%"+fromID+"%").Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			ids := make([]string, 0, len(rows[i].OrganizationIDs))
			for _, id := range rows[i].OrganizationIDs {
				if id == fromID {
					id = toID
				}
				ids = append(ids, id)
			}
			merged := models.JSONStringArray(nil).Union(ids)
			if err := tx.Model(&StoryRow{}).Where("id = ?", rows[i].ID).
				Update("organization_ids", merged).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertSource creates a new source record.
func (s *EntityStore) InsertSource(ctx context.Context, src *models.Source) (string, error) {
	row := &SourceRow{
		ID:        src.ID,
		Name:      src.Name,
		Embedding: src.Embedding,
		CreatedAt: src.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("insert source %q: %w", src.Name, err)
	}
	src.ID = row.ID
	return row.ID, nil
}

// InsertStory creates a new story record seeded from its first fragment.
func (s *EntityStore) InsertStory(ctx context.Context, story *models.Story) (string, error) {
	row := &StoryRow{
		ID:              story.ID,
		Embedding:       story.Embedding,
		FragmentIDs:     story.FragmentIDs,
		OrganizationIDs: story.OrganizationIDs,
		SourceIDs:       story.SourceIDs,
		CreatedAt:       story.CreatedAt,
		LastUpdated:     story.LastUpdated,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("insert story: %w", err)
	}
	story.ID = row.ID
	return row.ID, nil
}

// UnionStoryRefs merges fragment, organization, and source id sets into
// an existing story and bumps last_updated. Union is commutative and
// idempotent, so worker completion order does not matter.
func (s *EntityStore) UnionStoryRefs(ctx context.Context, id string, fragmentIDs, orgIDs, sourceIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row StoryRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return fmt.Errorf("load story %s: %w", id, err)
		}
		updates := map[string]any{
			"fragment_ids":     row.FragmentIDs.Union(fragmentIDs),
			"organization_ids": row.OrganizationIDs.Union(orgIDs),
			"source_ids":       row.SourceIDs.Union(sourceIDs),
			"last_updated":     time.Now().UTC(),
		}
		if err := tx.Model(&StoryRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("union story refs %s: %w", id, err)
		}
		return nil
	})
}

// GetStory retrieves a story by id. Returns (nil, nil) when absent.
func (s *EntityStore) GetStory(ctx context.Context, id string) (*models.Story, error) {
	var row StoryRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelStory(&row), nil
}

// StoriesSince returns stories created at or after the cutoff, the
// member pool for a clustering run.
func (s *EntityStore) StoriesSince(ctx context.Context, cutoff time.Time) ([]*models.Story, error) {
	var rows []StoryRow
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", cutoff).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Story, len(rows))
	for i := range rows {
		out[i] = toModelStory(&rows[i])
	}
	return out, nil
}

// StoriesByIDs retrieves stories by id, order unspecified.
func (s *EntityStore) StoriesByIDs(ctx context.Context, ids []string) ([]*models.Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []StoryRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Story, len(rows))
	for i := range rows {
		out[i] = toModelStory(&rows[i])
	}
	return out, nil
}

// StoryTimes returns created_at per story id, for the member-recency
// maintenance pass.
func (s *EntityStore) StoryTimes(ctx context.Context, ids []string) (map[string]time.Time, error) {
	if len(ids) == 0 {
		return map[string]time.Time{}, nil
	}
	var rows []StoryRow
	err := s.db.WithContext(ctx).
		Select("id", "created_at").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for i := range rows {
		out[rows[i].ID] = rows[i].CreatedAt
	}
	return out, nil
}

// CreateFragment inserts a fragment into the intake table.
func (s *EntityStore) CreateFragment(ctx context.Context, f *models.Fragment) (string, error) {
	row := fromModelFragment(f)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("insert fragment: %w", err)
	}
	f.ID = row.ID
	return row.ID, nil
}

// PendingFragments returns unprocessed, included fragments oldest-first.
func (s *EntityStore) PendingFragments(ctx context.Context, limit int) ([]*models.Fragment, error) {
	var rows []FragmentRow
	query := s.db.WithContext(ctx).
		Where("processed = ? AND include = ?", false, true).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Fragment, len(rows))
	for i := range rows {
		out[i] = toModelFragment(&rows[i])
	}
	return out, nil
}

// MarkFragmentProcessed flags a fragment as consumed by the pipeline.
func (s *EntityStore) MarkFragmentProcessed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&FragmentRow{}).Where("id = ?", id).
		Update("processed", true).Error
}

// FragmentsByIDs retrieves fragments by id, for summarization input.
func (s *EntityStore) FragmentsByIDs(ctx context.Context, ids []string) ([]*models.Fragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []FragmentRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Fragment, len(rows))
	for i := range rows {
		out[i] = toModelFragment(&rows[i])
	}
	return out, nil
}

// EmbeddingRecord pairs a record id with its stored embedding.
type EmbeddingRecord struct {
	ID        string
	Embedding models.Vector
}

// LoadEmbeddings returns (id, embedding) pairs for a collection, used to
// hydrate the in-process vector index at startup.
func (s *EntityStore) LoadEmbeddings(ctx context.Context, collection string) ([]EmbeddingRecord, error) {
	switch collection {
	case collections.Organizations:
		return loadEmbeddings[OrganizationRow](ctx, s.db, func(r *OrganizationRow) EmbeddingRecord {
			return EmbeddingRecord{ID: r.ID, Embedding: r.Embedding}
		})
	case collections.Sources:
		return loadEmbeddings[SourceRow](ctx, s.db, func(r *SourceRow) EmbeddingRecord {
			return EmbeddingRecord{ID: r.ID, Embedding: r.Embedding}
		})
	case collections.Stories:
		return loadEmbeddings[StoryRow](ctx, s.db, func(r *StoryRow) EmbeddingRecord {
			return EmbeddingRecord{ID: r.ID, Embedding: r.Embedding}
		})
	case collections.Clusters:
		return loadEmbeddings[ClusterRow](ctx, s.db, func(r *ClusterRow) EmbeddingRecord {
			return EmbeddingRecord{ID: r.ID, Embedding: r.Centroid}
		})
	default:
		return nil, fmt.Errorf("load embeddings: unknown collection %q", collection)
	}
}

func loadEmbeddings[T any](ctx context.Context, db *gorm.DB, extract func(*T) EmbeddingRecord) ([]EmbeddingRecord, error) {
	var rows []T
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]EmbeddingRecord, 0, len(rows))
	for i := range rows {
		rec := extract(&rows[i])
		if len(rec.Embedding) == 0 {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
