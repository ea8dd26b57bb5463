package memindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := New()

	require.NoError(t, ix.Add(ctx, "orgs", "a", []float32{1, 0}))
	require.NoError(t, ix.Add(ctx, "orgs", "b", []float32{0, 1}))
	require.NoError(t, ix.Add(ctx, "orgs", "c", []float32{0.9, 0.1}))

	matches, err := ix.Search(ctx, "orgs", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.Equal(t, "c", matches[1].ID)
}

func TestSearchTieBreaksByID(t *testing.T) {
	ctx := context.Background()
	ix := New()

	require.NoError(t, ix.Add(ctx, "ns", "z", []float32{1, 0}))
	require.NoError(t, ix.Add(ctx, "ns", "a", []float32{2, 0}))

	matches, err := ix.Search(ctx, "ns", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "z", matches[1].ID)
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	ix := New()

	require.NoError(t, ix.Add(ctx, "one", "a", []float32{1, 0}))

	matches, err := ix.Search(ctx, "two", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	n, err := ix.Count(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddReplacesAndRemove(t *testing.T) {
	ctx := context.Background()
	ix := New()

	require.NoError(t, ix.Add(ctx, "ns", "a", []float32{1, 0}))
	require.NoError(t, ix.Add(ctx, "ns", "a", []float32{0, 1}))

	n, err := ix.Count(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := ix.Search(ctx, "ns", []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)

	require.NoError(t, ix.Remove(ctx, "ns", "a"))
	require.NoError(t, ix.Remove(ctx, "ns", "absent"))

	n, err = ix.Count(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAddCopiesInput(t *testing.T) {
	ctx := context.Background()
	ix := New()

	vec := []float32{1, 0}
	require.NoError(t, ix.Add(ctx, "ns", "a", vec))
	vec[0] = 0
	vec[1] = 1

	matches, err := ix.Search(ctx, "ns", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestSearchZeroK(t *testing.T) {
	ctx := context.Background()
	ix := New()
	require.NoError(t, ix.Add(ctx, "ns", "a", []float32{1}))

	matches, err := ix.Search(ctx, "ns", []float32{1}, 0)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := New()
	assert.Error(t, ix.Add(ctx, "ns", "a", []float32{1}))
	_, err := ix.Search(ctx, "ns", []float32{1}, 1)
	assert.Error(t, err)
}
