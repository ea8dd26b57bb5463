package resolve

import (
	"strings"

	"github.com/thebtf/newsflow/pkg/models"
)

// MergeRule computes column updates for an existing organization given
// a freshly enriched duplicate. Rules are pure: they inspect, they
// never mutate.
type MergeRule struct {
	Name  string
	Apply func(existing, incoming *models.Organization) map[string]any
}

// OrganizationMergeRules are applied in order when a resolved candidate
// lands on an existing organization. Earlier rules win: a column set by
// one rule is not overwritten by a later one.
var OrganizationMergeRules = []MergeRule{
	{
		Name: "fill-missing-ticker",
		Apply: func(existing, incoming *models.Organization) map[string]any {
			if existing.Ticker == "" && incoming.Ticker != "" {
				return map[string]any{
					"ticker":            incoming.Ticker,
					"ticker_normalized": models.NormalizeTicker(incoming.Ticker),
				}
			}
			return nil
		},
	},
	{
		Name: "upgrade-to-public",
		Apply: func(existing, incoming *models.Organization) map[string]any {
			// Listings happen; delistings are rare enough that we never
			// downgrade automatically.
			if !existing.Public && incoming.Public {
				return map[string]any{"public": true}
			}
			return nil
		},
	},
	{
		Name: "fill-parent-org",
		Apply: func(existing, incoming *models.Organization) map[string]any {
			if existing.ParentOrg == "" && incoming.ParentOrg != "" {
				return map[string]any{"parent_org": incoming.ParentOrg}
			}
			return nil
		},
	},
	{
		Name: "longer-description",
		Apply: func(existing, incoming *models.Organization) map[string]any {
			in := strings.TrimSpace(incoming.Description)
			ex := strings.TrimSpace(existing.Description)
			// Replace only on a >20% length gain so near-equal phrasings
			// of the same description don't flip back and forth across
			// runs.
			if len(in)*5 > len(ex)*6 {
				return map[string]any{"description": in}
			}
			return nil
		},
	},
	{
		Name: "fill-sector",
		Apply: func(existing, incoming *models.Organization) map[string]any {
			if existing.Sector == "" && incoming.Sector != "" {
				return map[string]any{"sector": incoming.Sector}
			}
			return nil
		},
	},
}

// ApplyMergeRules runs the rules in order and folds their updates into
// one column map, first writer wins per column.
func ApplyMergeRules(rules []MergeRule, existing, incoming *models.Organization) map[string]any {
	merged := make(map[string]any)
	for _, rule := range rules {
		for col, val := range rule.Apply(existing, incoming) {
			if _, taken := merged[col]; !taken {
				merged[col] = val
			}
		}
	}
	return merged
}
