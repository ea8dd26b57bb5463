package gorm

import (
	"github.com/thebtf/newsflow/pkg/models"
)

// Row/model converters. Rows own the normalized natural-key columns;
// domain models recompute them on demand.

func toModelOrganization(r *OrganizationRow) *models.Organization {
	return &models.Organization{
		ID:          r.ID,
		Name:        r.Name,
		Ticker:      r.Ticker,
		Public:      r.Public,
		ParentOrg:   r.ParentOrg,
		Description: r.Description,
		Sector:      r.Sector,
		Embedding:   r.Embedding,
		CreatedAt:   r.CreatedAt,
	}
}

func fromModelOrganization(o *models.Organization) *OrganizationRow {
	name, ticker := o.NaturalKey()
	return &OrganizationRow{
		ID:               o.ID,
		Name:             o.Name,
		NameNormalized:   name,
		Ticker:           o.Ticker,
		TickerNormalized: ticker,
		Public:           o.Public,
		ParentOrg:        o.ParentOrg,
		Description:      o.Description,
		Sector:           o.Sector,
		Embedding:        o.Embedding,
		CreatedAt:        o.CreatedAt,
	}
}

func toModelSource(r *SourceRow) *models.Source {
	return &models.Source{
		ID:        r.ID,
		Name:      r.Name,
		Embedding: r.Embedding,
		CreatedAt: r.CreatedAt,
	}
}

func toModelStory(r *StoryRow) *models.Story {
	return &models.Story{
		ID:              r.ID,
		Embedding:       r.Embedding,
		FragmentIDs:     r.FragmentIDs,
		OrganizationIDs: r.OrganizationIDs,
		SourceIDs:       r.SourceIDs,
		CreatedAt:       r.CreatedAt,
		LastUpdated:     r.LastUpdated,
	}
}

func toModelFragment(r *FragmentRow) *models.Fragment {
	return &models.Fragment{
		ID:          r.ID,
		Title:       r.Title,
		Body:        r.Body,
		Summary:     r.Summary,
		SourceName:  r.SourceName,
		Instruments: r.Instruments,
		Embedding:   r.Embedding,
		Include:     r.Include,
		Processed:   r.Processed,
		PublishedAt: r.PublishedAt,
		CreatedAt:   r.CreatedAt,
	}
}

func fromModelFragment(f *models.Fragment) *FragmentRow {
	return &FragmentRow{
		ID:          f.ID,
		Title:       f.Title,
		Body:        f.Body,
		Summary:     f.Summary,
		SourceName:  f.SourceName,
		Instruments: f.Instruments,
		Embedding:   f.Embedding,
		Include:     f.Include,
		Processed:   f.Processed,
		PublishedAt: f.PublishedAt,
		CreatedAt:   f.CreatedAt,
	}
}

func toModelCluster(r *ClusterRow) *models.Cluster {
	return &models.Cluster{
		ID:              r.ID,
		Label:           r.Label,
		MemberIDs:       r.MemberIDs,
		Centroid:        r.Centroid,
		Summary:         r.Summary,
		Theme:           r.Theme,
		KeyPoints:       r.KeyPoints,
		Risks:           r.Risks,
		Opportunities:   r.Opportunities,
		RelevanceScore:  r.RelevanceScore,
		DispersionScore: r.DispersionScore,
		State:           models.ProcessingState(r.State),
		NewestMemberAt:  r.NewestMemberAt,
		CreatedAt:       r.CreatedAt,
	}
}

func fromModelCluster(c *models.Cluster) *ClusterRow {
	return &ClusterRow{
		ID:              c.ID,
		Label:           c.Label,
		MemberIDs:       c.MemberIDs,
		Centroid:        c.Centroid,
		Summary:         c.Summary,
		Theme:           c.Theme,
		KeyPoints:       c.KeyPoints,
		Risks:           c.Risks,
		Opportunities:   c.Opportunities,
		RelevanceScore:  c.RelevanceScore,
		DispersionScore: c.DispersionScore,
		State:           string(c.State),
		NewestMemberAt:  c.NewestMemberAt,
		CreatedAt:       c.CreatedAt,
	}
}

func toModelTrend(r *TrendRow) *models.Trend {
	return &models.Trend{
		ID:              r.ID,
		ClusterID:       r.ClusterID,
		Title:           r.Title,
		Category:        r.Category,
		MemberCount:     r.MemberCount,
		Summary:         r.Summary,
		LastUpdated:     r.LastUpdated,
		Disclaimer:      r.Disclaimer,
		MemberIDs:       r.MemberIDs,
		KeyPoints:       r.KeyPoints,
		RelevanceScore:  r.RelevanceScore,
		DispersionScore: r.DispersionScore,
		CreatedAt:       r.CreatedAt,
	}
}

func fromModelTrend(t *models.Trend) *TrendRow {
	return &TrendRow{
		ID:              t.ID,
		ClusterID:       t.ClusterID,
		Title:           t.Title,
		Category:        t.Category,
		MemberCount:     t.MemberCount,
		Summary:         t.Summary,
		LastUpdated:     t.LastUpdated,
		Disclaimer:      t.Disclaimer,
		MemberIDs:       t.MemberIDs,
		KeyPoints:       t.KeyPoints,
		RelevanceScore:  t.RelevanceScore,
		DispersionScore: t.DispersionScore,
		CreatedAt:       t.CreatedAt,
	}
}
