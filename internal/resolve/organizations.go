package resolve

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/embedding"
	"github.com/thebtf/newsflow/internal/enrich"
	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/models"
)

// OrganizationStore is the slice of the entity store the organization
// resolver needs.
type OrganizationStore interface {
	UpsertOrganization(ctx context.Context, org *models.Organization) (string, bool, error)
	UpdateOrganization(ctx context.Context, id string, updates map[string]any) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
}

// OrganizationResolver resolves raw organization mentions to canonical
// records. Unmatched mentions go through enrichment before insert, and
// the insert itself is an upsert on the normalized (name, ticker)
// natural key so that two phrasings of the same company converge on one
// row.
type OrganizationResolver struct {
	resolver *Resolver
	store    OrganizationStore
	enricher enrich.Enricher
	rules    []MergeRule
}

// NewOrganizationResolver wires the organization resolution path.
func NewOrganizationResolver(col collections.Collection, embedder embedding.Provider, index vector.Index, store OrganizationStore, enricher enrich.Enricher) *OrganizationResolver {
	r := &OrganizationResolver{
		store:    store,
		enricher: enricher,
		rules:    OrganizationMergeRules,
	}
	r.resolver = NewResolver(col, embedder, index, r.createFromMention)
	return r
}

// Resolve returns the canonical organization id for a raw mention.
func (r *OrganizationResolver) Resolve(ctx context.Context, mention string) (string, error) {
	res, err := r.resolver.ResolveOrCreate(ctx, mention)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// createFromMention runs when no indexed organization is similar
// enough: enrich the mention into a canonical record, then upsert on
// the natural key. A conflicting natural key means the mention is a new
// phrasing of a known company, so the merge rules fold the enrichment
// into the existing row instead.
func (r *OrganizationResolver) createFromMention(ctx context.Context, mention string, vec []float32) (string, error) {
	e, err := r.enricher.EnrichOrganization(ctx, mention)
	if err != nil {
		return "", fmt.Errorf("enrich organization mention: %w", err)
	}

	org := &models.Organization{
		Name:        e.Name,
		Ticker:      e.Ticker,
		Public:      e.Public,
		ParentOrg:   e.ParentOrg,
		Description: e.Description,
		Sector:      e.Sector,
		Embedding:   vec,
	}

	id, created, err := r.store.UpsertOrganization(ctx, org)
	if err != nil {
		return "", err
	}
	if created {
		return id, nil
	}

	existing, err := r.store.GetOrganization(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load existing organization %s: %w", id, err)
	}
	if existing == nil {
		return "", fmt.Errorf("organization %s vanished during merge", id)
	}

	updates := ApplyMergeRules(r.rules, existing, org)
	if len(updates) > 0 {
		if err := r.store.UpdateOrganization(ctx, id, updates); err != nil {
			return "", fmt.Errorf("merge enrichment into organization %s: %w", id, err)
		}
		log.Debug().
			Str("id", id).
			Int("columns", len(updates)).
			Msg("Merged enrichment into existing organization")
	}
	return id, nil
}
