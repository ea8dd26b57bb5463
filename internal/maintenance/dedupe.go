// Package maintenance holds operator-triggered repair routines.
package maintenance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/models"
	"github.com/thebtf/newsflow/pkg/vecmath"
)

// OrganizationStore is the slice of the entity store the sweep needs.
type OrganizationStore interface {
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
	ReplaceOrganizationRefs(ctx context.Context, fromID, toID string) error
	DeleteOrganization(ctx context.Context, id string) error
}

// DedupeResult reports what a sweep did.
type DedupeResult struct {
	Scanned int `json:"scanned"`
	Merged  int `json:"merged"`
	Failed  int `json:"failed"`
}

// OrganizationSweep merges semantically duplicate organizations that
// slipped past resolution, typically records created before a threshold
// was tightened. The oldest record of each duplicate group survives;
// story references move to it.
type OrganizationSweep struct {
	store     OrganizationStore
	index     vector.Index
	threshold float64
}

// NewOrganizationSweep creates a sweep with the given similarity
// threshold.
func NewOrganizationSweep(store OrganizationStore, index vector.Index, threshold float64) *OrganizationSweep {
	if threshold <= 0 {
		threshold = 0.9
	}
	return &OrganizationSweep{store: store, index: index, threshold: threshold}
}

// Run scans all organizations oldest-first and merges later records
// into earlier ones when their embeddings are near-identical. Failures
// are per-pair.
func (s *OrganizationSweep) Run(ctx context.Context) (*DedupeResult, error) {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	res := &DedupeResult{Scanned: len(orgs)}
	absorbed := make(map[string]bool)

	for i := 0; i < len(orgs); i++ {
		if absorbed[orgs[i].ID] {
			continue
		}
		for j := i + 1; j < len(orgs); j++ {
			if absorbed[orgs[j].ID] {
				continue
			}
			if len(orgs[i].Embedding) == 0 || len(orgs[j].Embedding) == 0 {
				continue
			}
			if vecmath.Cosine(orgs[i].Embedding, orgs[j].Embedding) < s.threshold {
				continue
			}
			if err := s.merge(ctx, orgs[j].ID, orgs[i].ID); err != nil {
				res.Failed++
				log.Warn().
					Err(err).
					Str("from", orgs[j].ID).
					Str("into", orgs[i].ID).
					Msg("Failed to merge duplicate organization")
				continue
			}
			absorbed[orgs[j].ID] = true
			res.Merged++
			log.Info().
				Str("from", orgs[j].Name).
				Str("into", orgs[i].Name).
				Msg("Merged duplicate organization")
		}
	}
	return res, ctx.Err()
}

func (s *OrganizationSweep) merge(ctx context.Context, fromID, toID string) error {
	if err := s.store.ReplaceOrganizationRefs(ctx, fromID, toID); err != nil {
		return fmt.Errorf("rewrite story refs: %w", err)
	}
	if err := s.store.DeleteOrganization(ctx, fromID); err != nil {
		return fmt.Errorf("delete absorbed record: %w", err)
	}
	return s.index.Remove(ctx, collections.Organizations, fromID)
}
