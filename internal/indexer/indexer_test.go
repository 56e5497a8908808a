package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/storage"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, batchSize int) (*Indexer, *storage.BoltCollection) {
	t.Helper()
	c, err := storage.NewBoltCollection(filepath.Join(t.TempDir(), "collections.db"), "ember_frames")
	require.NoError(t, err)
	s := embeddings.NewService(embeddings.NewHashEmbedder(256), 2)
	t.Cleanup(func() {
		s.Close()
		c.Close()
	})
	return New(c, s, batchSize, discard()), c
}

func snapshot(n int) storage.Snapshot {
	snap := storage.Snapshot{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("frame-%03d", i)
		snap[id] = models.Frame{
			ID:          id,
			Filename:    fmt.Sprintf("clip_frame_%04d.jpg", i),
			SourceVideo: "clip.mp4",
			FrameIndex:  i * 30,
			Timestamp:   float64(i),
		}
	}
	return snap
}

func TestBuildDocument(t *testing.T) {
	tests := []struct {
		name  string
		frame models.Frame
		want  string
	}{
		{
			name:  "with caption",
			frame: models.Frame{SourceVideo: "beach_trip-2023.mp4", Caption: "person, beach, smiling"},
			want:  "person, beach, smiling Video: beach trip 2023 Frame from video content Scene from video",
		},
		{
			name:  "without caption",
			frame: models.Frame{SourceVideo: "demo.mov"},
			want:  "Video: demo Frame from video content Scene from video",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildDocument(tt.frame))
		})
	}
}

func TestIndexBatchEmpty(t *testing.T) {
	ix, _ := setup(t, 10)
	_, err := ix.IndexBatch(context.Background(), storage.Snapshot{})
	assert.ErrorIs(t, err, ErrNothingToIndex)
}

func TestIndexBatchWritesAllDocuments(t *testing.T) {
	ix, c := setup(t, 4)
	ctx := context.Background()

	n, err := ix.IndexBatch(ctx, snapshot(10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature-hash-256", info.Model)
	assert.Equal(t, 256, info.Dimension)

	// Re-indexing the same snapshot replaces rather than duplicates.
	_, err = ix.IndexBatch(ctx, snapshot(10))
	require.NoError(t, err)
	count, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestRecreateThenIndex(t *testing.T) {
	ix, c := setup(t, 100)
	ctx := context.Background()

	_, err := ix.IndexBatch(ctx, snapshot(7))
	require.NoError(t, err)

	require.NoError(t, ix.RecreateCollection(ctx))
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	n, err := ix.IndexBatch(ctx, snapshot(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	count, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIndexBatchRejectsOtherModel(t *testing.T) {
	ix, c := setup(t, 100)
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx, storage.CollectionInfo{Model: "all-MiniLM-L6-v2", Dimension: 384}))

	_, err := ix.IndexBatch(ctx, snapshot(2))
	assert.ErrorIs(t, err, storage.ErrModelMismatch)
}

type failingEmbedder struct {
	*embeddings.Service
}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend down")
}

func TestIndexBatchEmbeddingFailure(t *testing.T) {
	_, c := setup(t, 100)
	s := embeddings.NewService(embeddings.NewHashEmbedder(256), 1)
	defer s.Close()

	ix := New(c, failingEmbedder{s}, 100, discard())
	_, err := ix.IndexBatch(context.Background(), snapshot(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestSmokeTest(t *testing.T) {
	ix, _ := setup(t, 100)
	ctx := context.Background()

	snap := snapshot(2)
	f := snap["frame-000"]
	f.Caption = "person, phone, smiling"
	snap["frame-000"] = f

	_, err := ix.IndexBatch(ctx, snap)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, ix.SmokeTest(ctx, &out, DefaultQueries, 2))

	text := out.String()
	for _, q := range DefaultQueries {
		assert.Contains(t, text, "Query: '"+q+"'")
	}
	assert.Contains(t, text, "ID=frame-000, Similarity=")
	assert.Contains(t, text, "Document: person, phone, smiling Video: clip")
}
