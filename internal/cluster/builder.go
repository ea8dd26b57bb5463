package cluster

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/pkg/models"
	"github.com/thebtf/newsflow/pkg/vecmath"
)

// ErrSplitDiverged reports that tightening the neighborhood radius
// could not break an oversized cluster apart within the pass budget.
var ErrSplitDiverged = errors.New("oversized cluster split diverged")

// Item is one clustering input: a story id, its embedding, an optional
// exact-duplicate key, and the story's creation time for recency
// ordering.
type Item struct {
	ID        string
	Vec       []float32
	DedupKey  string
	CreatedAt time.Time
}

// BuilderConfig tunes the cluster builder.
type BuilderConfig struct {
	// Eps is the cosine-distance neighborhood radius.
	Eps float64
	// MinClusterSize is the density threshold; clusters smaller than
	// this never form.
	MinClusterSize int
	// OversizeFraction caps cluster size at this fraction of the batch,
	// floored at MinClusterSize.
	OversizeFraction float64
	// TightenFactor shrinks eps when a split pass makes no progress.
	TightenFactor float64
	// MaxSplitPasses bounds the per-cluster tightening loop.
	MaxSplitPasses int
}

func (c *BuilderConfig) applyDefaults() {
	if c.Eps <= 0 {
		c.Eps = 0.35
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 5
	}
	if c.OversizeFraction <= 0 {
		c.OversizeFraction = 0.10
	}
	if c.TightenFactor <= 0 || c.TightenFactor >= 1 {
		c.TightenFactor = 0.75
	}
	if c.MaxSplitPasses <= 0 {
		c.MaxSplitPasses = 8
	}
}

// Builder turns a batch of items into candidate clusters.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a builder with defaults filled in.
func NewBuilder(cfg BuilderConfig) *Builder {
	cfg.applyDefaults()
	return &Builder{cfg: cfg}
}

// Build clusters the batch. Exact duplicates (same DedupKey) are
// dropped before clustering, noise points are discarded, and oversized
// clusters are split with progressively tighter neighborhoods. Labels
// start at labelOffset and each cluster's members keep the batch's
// input order, which callers supply newest-first.
func (b *Builder) Build(items []Item, labelOffset int) []*models.Cluster {
	items = dedupExact(items)
	if len(items) < b.cfg.MinClusterSize {
		return nil
	}

	vecs := make([][]float32, len(items))
	for i := range items {
		vecs[i] = items[i].Vec
	}

	labels := DensityCluster(vecs, b.cfg.Eps, b.cfg.MinClusterSize)

	maxSize := int(b.cfg.OversizeFraction * float64(len(items)))
	if maxSize < b.cfg.MinClusterSize {
		maxSize = b.cfg.MinClusterSize
	}

	// Worklist of member-index groups; oversized groups are split and
	// their pieces pushed back.
	worklist := groupByLabel(labels)
	var final [][]int
	for len(worklist) > 0 {
		group := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if len(group) <= maxSize {
			final = append(final, group)
			continue
		}

		pieces, err := b.split(items, group)
		if err != nil {
			log.Warn().
				Err(err).
				Int("members", len(group)).
				Int("max_size", maxSize).
				Msg("Keeping oversized cluster whole")
			final = append(final, group)
			continue
		}
		worklist = append(worklist, pieces...)
	}

	clusters := make([]*models.Cluster, 0, len(final))
	for i, group := range final {
		clusters = append(clusters, b.assemble(items, group, labelOffset+i))
	}
	return clusters
}

// split re-clusters an oversized group with the same radius, tightening
// it whenever a pass fails to break the group into at least two dense
// pieces. Members that fall out as noise are reattached to the nearest
// piece so no member is lost.
func (b *Builder) split(items []Item, group []int) ([][]int, error) {
	vecs := make([][]float32, len(group))
	for i, idx := range group {
		vecs[i] = items[idx].Vec
	}

	eps := b.cfg.Eps
	for pass := 0; pass < b.cfg.MaxSplitPasses; pass++ {
		labels := DensityCluster(vecs, eps, b.cfg.MinClusterSize)
		sub := groupByLabel(labels)
		if len(sub) < 2 {
			eps *= b.cfg.TightenFactor
			continue
		}

		centroids := make([][]float32, len(sub))
		for i, g := range sub {
			member := make([][]float32, len(g))
			for j, li := range g {
				member[j] = vecs[li]
			}
			centroids[i] = vecmath.Centroid(member)
		}

		// Reattach noise to the nearest piece.
		for li, l := range labels {
			if l != Noise {
				continue
			}
			best, bestSim := 0, -2.0
			for ci, c := range centroids {
				if sim := vecmath.Cosine(vecs[li], c); sim > bestSim {
					best, bestSim = ci, sim
				}
			}
			sub[best] = append(sub[best], li)
		}

		// Map local indices back to batch indices, restoring input order.
		out := make([][]int, len(sub))
		for i, g := range sub {
			sort.Ints(g)
			out[i] = make([]int, len(g))
			for j, li := range g {
				out[i][j] = group[li]
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d members after %d passes", ErrSplitDiverged, len(group), b.cfg.MaxSplitPasses)
}

func (b *Builder) assemble(items []Item, group []int, label int) *models.Cluster {
	ids := make([]string, len(group))
	vecs := make([][]float32, len(group))
	var newest time.Time
	for i, idx := range group {
		ids[i] = items[idx].ID
		vecs[i] = items[idx].Vec
		if items[idx].CreatedAt.After(newest) {
			newest = items[idx].CreatedAt
		}
	}
	return &models.Cluster{
		Label:          label,
		MemberIDs:      ids,
		Centroid:       vecmath.Centroid(vecs),
		State:          models.StateUnprocessed,
		NewestMemberAt: newest,
	}
}

// dedupExact drops items whose DedupKey was already seen; first
// occurrence wins. Items with no key always survive.
func dedupExact(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	dropped := 0
	for _, it := range items {
		if it.DedupKey != "" {
			if seen[it.DedupKey] {
				dropped++
				continue
			}
			seen[it.DedupKey] = true
		}
		out = append(out, it)
	}
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("Removed exact duplicates before clustering")
	}
	return out
}

// groupByLabel collects member indices per non-noise label, ordered by
// label, members in input order.
func groupByLabel(labels []int) [][]int {
	maxLabel := -1
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}
	if maxLabel < 0 {
		return nil
	}
	groups := make([][]int, maxLabel+1)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		groups[l] = append(groups[l], i)
	}
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
