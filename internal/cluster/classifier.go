package cluster

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/vector"
	"github.com/thebtf/newsflow/pkg/models"
)

// Disposition says what to do with a freshly built cluster relative to
// what is already persisted.
type Disposition int

const (
	// DispositionInsert: nothing similar exists, persist as new.
	DispositionInsert Disposition = iota
	// DispositionMergeOnly: near-identical cluster exists; union the
	// members, keep its summary, centroid, and state.
	DispositionMergeOnly
	// DispositionReprocess: related cluster exists; union the members,
	// refresh the centroid, and send it back through summarization.
	DispositionReprocess
)

func (d Disposition) String() string {
	switch d {
	case DispositionInsert:
		return "insert"
	case DispositionMergeOnly:
		return "merge-only"
	case DispositionReprocess:
		return "reprocess"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Classification pairs a new cluster with its disposition and, for the
// merge cases, the persisted cluster it matched.
type Classification struct {
	Cluster     *models.Cluster
	Disposition Disposition
	MatchID     string
	Similarity  float64
}

// ClassifierConfig carries the similarity bands.
type ClassifierConfig struct {
	// MergeThreshold and above is merge-only.
	MergeThreshold float64
	// ReprocessThreshold up to MergeThreshold is reprocess; below is
	// insert.
	ReprocessThreshold float64
	// Workers bounds classification concurrency.
	Workers int
}

func (c *ClassifierConfig) applyDefaults() {
	if c.MergeThreshold <= 0 {
		c.MergeThreshold = 0.9
	}
	if c.ReprocessThreshold <= 0 {
		c.ReprocessThreshold = 0.5
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Classifier compares new cluster centroids against the persisted
// centroid index.
type Classifier struct {
	cfg   ClassifierConfig
	index vector.Index
}

// NewClassifier creates a classifier with defaults filled in.
func NewClassifier(cfg ClassifierConfig, index vector.Index) *Classifier {
	cfg.applyDefaults()
	return &Classifier{cfg: cfg, index: index}
}

// Classify assigns a disposition to every new cluster in parallel.
// Results come back in input order.
func (c *Classifier) Classify(ctx context.Context, clusters []*models.Cluster) ([]Classification, error) {
	out := make([]Classification, len(clusters))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, cl := range clusters {
		i, cl := i, cl
		g.Go(func() error {
			matches, err := c.index.Search(ctx, collections.Clusters, cl.Centroid, 1)
			if err != nil {
				return fmt.Errorf("search persisted clusters: %w", err)
			}
			out[i] = c.classifyOne(cl, matches)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Classifier) classifyOne(cl *models.Cluster, matches []vector.Match) Classification {
	res := Classification{Cluster: cl, Disposition: DispositionInsert}
	if len(matches) == 0 {
		return res
	}
	best := matches[0]
	res.Similarity = best.Similarity
	switch {
	case best.Similarity >= c.cfg.MergeThreshold:
		res.Disposition = DispositionMergeOnly
		res.MatchID = best.ID
	case best.Similarity >= c.cfg.ReprocessThreshold:
		res.Disposition = DispositionReprocess
		res.MatchID = best.ID
	}
	return res
}
