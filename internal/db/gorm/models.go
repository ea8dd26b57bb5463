// Package gorm provides GORM-based database operations for newsflow.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/google/uuid"
	"github.com/thebtf/newsflow/pkg/models"
)

// GORM Models
//
// Rows mirror the pkg/models domain types; embeddings and id sets are
// stored as JSON TEXT via the Scanner/Valuer types in pkg/models.

// OrganizationRow persists a canonical organization. The unique index on
// (name_normalized, ticker_normalized) is the set-on-insert natural key.
type OrganizationRow struct {
	ID               string `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	NameNormalized   string `gorm:"uniqueIndex:idx_org_natural_key,priority:1;not null"`
	Ticker           string
	TickerNormalized string `gorm:"uniqueIndex:idx_org_natural_key,priority:2;not null"`
	Public           bool
	ParentOrg        string
	Description      string        `gorm:"type:text"`
	Sector           string        `gorm:"index"`
	Embedding        models.Vector `gorm:"type:text"`
	CreatedAt        time.Time     `gorm:"index;not null"`
}

func (OrganizationRow) TableName() string { return "organizations" }

// BeforeCreate hook to ensure id, natural key, and timestamp are set.
func (o *OrganizationRow) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.NameNormalized == "" {
		o.NameNormalized = models.NormalizeName(o.Name)
	}
	if o.TickerNormalized == "" {
		o.TickerNormalized = models.NormalizeTicker(o.Ticker)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return nil
}

// SourceRow persists a canonical information source. No natural key;
// dedup is purely similarity-based.
type SourceRow struct {
	ID        string        `gorm:"primaryKey"`
	Name      string        `gorm:"index;not null"`
	Embedding models.Vector `gorm:"type:text"`
	CreatedAt time.Time     `gorm:"index;not null"`
}

func (SourceRow) TableName() string { return "sources" }

// BeforeCreate hook to ensure id and timestamp are set.
func (s *SourceRow) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return nil
}

// StoryRow persists a story record aggregating near-identical fragments.
type StoryRow struct {
	ID              string                 `gorm:"primaryKey"`
	Embedding       models.Vector          `gorm:"type:text"`
	FragmentIDs     models.JSONStringArray `gorm:"type:text"`
	OrganizationIDs models.JSONStringArray `gorm:"type:text"`
	SourceIDs       models.JSONStringArray `gorm:"type:text"`
	CreatedAt       time.Time              `gorm:"index;not null"`
	LastUpdated     time.Time              `gorm:"not null"`
}

func (StoryRow) TableName() string { return "stories" }

// BeforeCreate hook to ensure id and timestamps are set.
func (s *StoryRow) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now
	}
	return nil
}

// FragmentRow persists an extracted text fragment awaiting resolution.
type FragmentRow struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"type:text"`
	Body        string `gorm:"type:text"`
	Summary     string `gorm:"type:text"`
	SourceName  string
	Instruments models.JSONStringArray `gorm:"type:text"`
	Embedding   models.Vector          `gorm:"type:text"`
	Include     bool                   `gorm:"index:idx_fragments_pending,priority:2"`
	Processed   bool                   `gorm:"index:idx_fragments_pending,priority:1"`
	PublishedAt time.Time
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (FragmentRow) TableName() string { return "fragments" }

// BeforeCreate hook to ensure id and timestamp are set.
func (f *FragmentRow) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ClusterRow persists a topical cluster and its summary fields.
type ClusterRow struct {
	ID              string                 `gorm:"primaryKey"`
	Label           int                    `gorm:"index"`
	MemberIDs       models.JSONStringArray `gorm:"type:text"`
	Centroid        models.Vector          `gorm:"type:text"`
	Summary         string                 `gorm:"type:text"`
	Theme           string
	KeyPoints       models.JSONStringArray `gorm:"type:text"`
	Risks           models.JSONStringArray `gorm:"type:text"`
	Opportunities   models.JSONStringArray `gorm:"type:text"`
	RelevanceScore  float64                `gorm:"type:real;default:0"`
	DispersionScore float64                `gorm:"type:real;default:0"`
	State           string                 `gorm:"type:text;default:'unprocessed';check:state IN ('unprocessed', 'pending_reprocess', 'processed');index"`
	NewestMemberAt  time.Time              `gorm:"index"`
	CreatedAt       time.Time              `gorm:"index;not null"`
}

func (ClusterRow) TableName() string { return "clusters" }

// BeforeCreate hook to ensure id, state, and timestamp are set.
func (c *ClusterRow) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.State == "" {
		c.State = string(models.StateUnprocessed)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return nil
}

// TrendRow persists the read-side trend projection of a cluster.
type TrendRow struct {
	ID              string `gorm:"primaryKey"`
	ClusterID       string `gorm:"index;not null"`
	Title           string
	Category        string
	MemberCount     int
	Summary         string                 `gorm:"type:text"`
	LastUpdated     string                 `gorm:"column:last_updated"`
	Disclaimer      string                 `gorm:"type:text"`
	MemberIDs       models.JSONStringArray `gorm:"type:text"`
	KeyPoints       models.JSONStringArray `gorm:"type:text"`
	RelevanceScore  float64                `gorm:"type:real;default:0"`
	DispersionScore float64                `gorm:"type:real;default:0"`
	CreatedAt       time.Time              `gorm:"not null"`
}

func (TrendRow) TableName() string { return "trends" }

// BeforeCreate hook to ensure id and timestamp are set.
func (t *TrendRow) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}
