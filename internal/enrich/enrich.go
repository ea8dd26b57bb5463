// Package enrich calls external language-model services to canonicalize
// entity candidates and summarize clusters. Responses are free-form
// model output, so parsing is defensive: fenced code blocks and
// trailing commas are tolerated, anything else malformed is rejected.
package enrich

import (
	"context"
	"errors"

	"github.com/thebtf/newsflow/pkg/models"
)

// ErrMalformed marks a response the service returned but that could not
// be parsed into the expected shape. Callers treat it like any other
// per-item failure: log and skip.
var ErrMalformed = errors.New("malformed enrichment response")

// Enrichment is the canonical organization record extracted from a raw
// candidate mention.
type Enrichment struct {
	Name        string `json:"name"`
	Ticker      string `json:"ticker"`
	Public      bool   `json:"public"`
	ParentOrg   string `json:"parent_org"`
	Description string `json:"description"`
	Sector      string `json:"sector"`
	// Existing is set when the service recognizes the mention as an
	// alias of a record it has seen before.
	Existing bool `json:"existing"`
}

// Enricher canonicalizes an unmatched organization mention.
type Enricher interface {
	EnrichOrganization(ctx context.Context, mention string) (*Enrichment, error)
}

// Summarizer produces the analysis fields for a cluster from its member
// summaries.
type Summarizer interface {
	SummarizeCluster(ctx context.Context, memberTexts []string) (*models.ClusterAnalysis, error)
}
