package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBolt(t *testing.T) *BoltCollection {
	t.Helper()
	c, err := NewBoltCollection(filepath.Join(t.TempDir(), "index", "collections.db"), "ember_frames")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func entry(id, doc string, vec ...float32) VectorEntry {
	return VectorEntry{ID: id, Document: doc, Embedding: vec, Metadata: EntryMetadata{VideoFilename: "v.mp4"}}
}

func TestBoltMissingCollection(t *testing.T) {
	c := openBolt(t)
	ctx := context.Background()

	_, err := c.Info(ctx)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	_, err = c.Query(ctx, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.ErrorIs(t, c.Upsert(ctx, []VectorEntry{entry("a", "x", 1, 0)}), ErrCollectionNotFound)
}

func TestBoltQueryOrdersByDistance(t *testing.T) {
	c := openBolt(t)
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx, CollectionInfo{Model: "m", Dimension: 2}))

	require.NoError(t, c.Upsert(ctx, []VectorEntry{
		entry("east", "east doc", 1, 0),
		entry("north", "north doc", 0, 1),
		entry("west", "west doc", -1, 0),
		entry("northeast", "northeast doc", 1, 1),
	}))

	hits, err := c.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "east", hits[0].ID)
	assert.Equal(t, "east doc", hits[0].Document)
	assert.InDelta(t, 0.0, hits[0].Score, 1e-6)
	assert.Equal(t, Distance, hits[0].Kind)
	assert.Equal(t, "northeast", hits[1].ID)
	assert.Equal(t, "north", hits[2].ID)
	assert.InDelta(t, 1.0, hits[2].Score, 1e-6)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBoltUpsertReplaces(t *testing.T) {
	c := openBolt(t)
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx, CollectionInfo{Model: "m", Dimension: 2}))

	require.NoError(t, c.Upsert(ctx, []VectorEntry{entry("a", "first", 1, 0)}))
	require.NoError(t, c.Upsert(ctx, []VectorEntry{entry("a", "second", 0, 1)}))

	hits, err := c.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].Document)
}

func TestBoltModelParity(t *testing.T) {
	c := openBolt(t)
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx, CollectionInfo{Model: "all-MiniLM-L6-v2", Dimension: 384}))
	require.NoError(t, c.Ensure(ctx, CollectionInfo{Model: "all-MiniLM-L6-v2", Dimension: 384}))

	err := c.Ensure(ctx, CollectionInfo{Model: "text-embedding-3-small", Dimension: 1536})
	assert.ErrorIs(t, err, ErrModelMismatch)

	require.NoError(t, c.Recreate(ctx, CollectionInfo{Model: "text-embedding-3-small", Dimension: 1536}))
	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, CollectionInfo{Name: "ember_frames", Model: "text-embedding-3-small", Dimension: 1536}, info)
}

func TestBoltRecreateDropsEntries(t *testing.T) {
	c := openBolt(t)
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx, CollectionInfo{Model: "m", Dimension: 2}))
	require.NoError(t, c.Upsert(ctx, []VectorEntry{entry("a", "x", 1, 0)}))

	require.NoError(t, c.Recreate(ctx, CollectionInfo{Model: "m", Dimension: 2}))
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBoltRejectsWrongDimension(t *testing.T) {
	c := openBolt(t)
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx, CollectionInfo{Model: "m", Dimension: 3}))

	assert.Error(t, c.Upsert(ctx, []VectorEntry{entry("a", "x", 1, 0)}))
	_, err := c.Query(ctx, []float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
