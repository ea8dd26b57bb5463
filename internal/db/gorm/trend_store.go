package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/thebtf/newsflow/pkg/models"
)

// TrendStore provides database operations for the trend projection.
// Trends are regenerated wholesale each run, so the only write is a
// full replace.
type TrendStore struct {
	db *gorm.DB
}

// NewTrendStore creates a new trend store.
func NewTrendStore(store *Store) *TrendStore {
	return &TrendStore{db: store.DB}
}

// ReplaceTrends swaps the entire trend set atomically.
func (s *TrendStore) ReplaceTrends(ctx context.Context, trends []*models.Trend) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&TrendRow{}).Error; err != nil {
			return fmt.Errorf("clear trends: %w", err)
		}
		for _, t := range trends {
			row := fromModelTrend(t)
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert trend for cluster %s: %w", t.ClusterID, err)
			}
			t.ID = row.ID
		}
		return nil
	})
}

// ListTrends returns all trends, most relevant first.
func (s *TrendStore) ListTrends(ctx context.Context) ([]*models.Trend, error) {
	var rows []TrendRow
	err := s.db.WithContext(ctx).Order("relevance_score DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Trend, len(rows))
	for i := range rows {
		out[i] = toModelTrend(&rows[i])
	}
	return out, nil
}
