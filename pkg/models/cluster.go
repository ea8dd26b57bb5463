package models

import "time"

// ProcessingState tracks where a cluster sits in the summarization
// lifecycle. Transitions only move a cluster toward StateProcessed; a
// reprocess decision sends it back through StateReprocess.
type ProcessingState string

const (
	// StateUnprocessed marks a freshly inserted cluster awaiting its
	// first summary.
	StateUnprocessed ProcessingState = "unprocessed"
	// StateReprocess marks a cluster whose topic may have shifted; the
	// next processing pass recomputes its summary and centroid.
	StateReprocess ProcessingState = "pending_reprocess"
	// StateProcessed marks a cluster with a current summary.
	StateProcessed ProcessingState = "processed"
)

// NeedsProcessing reports whether the processing pass should pick up a
// cluster in this state.
func (s ProcessingState) NeedsProcessing() bool {
	return s == StateUnprocessed || s == StateReprocess
}

// Cluster is a topical grouping of stories by embedding proximity.
// MemberIDs is ordered newest-first once the maintenance pass has run.
type Cluster struct {
	ID              string          `json:"id"`
	Label           int             `json:"label"`
	MemberIDs       JSONStringArray `json:"member_ids"`
	Centroid        Vector          `json:"-"`
	Summary         string          `json:"summary"`
	Theme           string          `json:"theme"`
	KeyPoints       JSONStringArray `json:"key_points"`
	Risks           JSONStringArray `json:"risks"`
	Opportunities   JSONStringArray `json:"opportunities"`
	RelevanceScore  float64         `json:"relevance_score"`
	DispersionScore float64         `json:"dispersion_score"`
	State           ProcessingState `json:"processing_state"`
	NewestMemberAt  time.Time       `json:"newest_member_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Trend is the read-side projection of a processed cluster, regenerated
// wholesale on every pipeline run.
type Trend struct {
	ID              string          `json:"id"`
	ClusterID       string          `json:"cluster_id"`
	Title           string          `json:"title"`
	Category        string          `json:"category"`
	MemberCount     int             `json:"member_count"`
	Summary         string          `json:"summary"`
	LastUpdated     string          `json:"last_updated"`
	Disclaimer      string          `json:"disclaimer"`
	MemberIDs       JSONStringArray `json:"member_ids"`
	KeyPoints       JSONStringArray `json:"key_points"`
	RelevanceScore  float64         `json:"relevance_score"`
	DispersionScore float64         `json:"dispersion_score"`
	CreatedAt       time.Time       `json:"created_at"`
}
