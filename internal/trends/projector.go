// Package trends builds the read-side trend projection from processed
// clusters. Trends are regenerated wholesale each run; there is no
// incremental trend state.
package trends

import (
	"fmt"
	"strings"
	"time"

	"github.com/thebtf/newsflow/pkg/models"
)

// Disclaimer is attached to every trend.
const Disclaimer = "Automatically generated from aggregated news coverage. Not investment advice."

// Projector turns processed clusters into trend records.
type Projector struct {
	minRelevance float64
}

// NewProjector creates a projector. Clusters below minRelevance are
// skipped.
func NewProjector(minRelevance float64) *Projector {
	if minRelevance <= 0 {
		minRelevance = 0.5
	}
	return &Projector{minRelevance: minRelevance}
}

// Project builds one trend per qualifying cluster. Input ordering is
// preserved; callers pass clusters most relevant first.
func (p *Projector) Project(clusters []*models.Cluster, now time.Time) []*models.Trend {
	out := make([]*models.Trend, 0, len(clusters))
	for _, c := range clusters {
		if c.State != models.StateProcessed || c.RelevanceScore < p.minRelevance {
			continue
		}
		out = append(out, &models.Trend{
			ClusterID:       c.ID,
			Title:           c.Theme,
			Category:        categorize(c),
			MemberCount:     len(c.MemberIDs),
			Summary:         assembleSummary(c),
			LastUpdated:     FormatTimeAgo(c.NewestMemberAt, now),
			Disclaimer:      Disclaimer,
			MemberIDs:       c.MemberIDs,
			KeyPoints:       c.KeyPoints,
			RelevanceScore:  c.RelevanceScore,
			DispersionScore: c.DispersionScore,
		})
	}
	return out
}

// categorize buckets a cluster by how varied its coverage is.
func categorize(c *models.Cluster) string {
	switch {
	case c.DispersionScore >= 0.7:
		return "broad"
	case c.DispersionScore >= 0.4:
		return "developing"
	default:
		return "focused"
	}
}

// assembleSummary renders the cluster analysis as one readable block.
func assembleSummary(c *models.Cluster) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(c.Summary))
	writeSection(&sb, "Key points", c.KeyPoints)
	writeSection(&sb, "Risks", c.Risks)
	writeSection(&sb, "Opportunities", c.Opportunities)
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n\n%s:", title)
	for _, it := range items {
		fmt.Fprintf(sb, "\n- %s", strings.TrimSpace(it))
	}
}

// FormatTimeAgo renders t relative to now in coarse human units.
// Zero or future times render as "just now".
func FormatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "just now"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
