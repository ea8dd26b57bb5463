package resolve

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MapResult is one slot of a Map output. A failing item carries its
// error here instead of aborting the batch.
type MapResult[R any] struct {
	Value R
	Err   error
}

// Map runs fn over items with at most workers goroutines and returns
// results in input order. Map itself only fails on context
// cancellation; per-item errors land in the result slots.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) ([]MapResult[R], error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]MapResult[R], len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := fn(ctx, item)
			results[i] = MapResult[R]{Value: v, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
