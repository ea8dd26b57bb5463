package models

// ClusterAnalysis is the output of the external summarization call for
// one cluster.
type ClusterAnalysis struct {
	Summary         string   `json:"summary"`
	Theme           string   `json:"theme"`
	KeyPoints       []string `json:"key_points"`
	Risks           []string `json:"risks"`
	Opportunities   []string `json:"opportunities"`
	RelevanceScore  float64  `json:"relevance_score"`
	DispersionScore float64  `json:"dispersion_score"`
}
