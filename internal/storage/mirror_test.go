package storage

import (
	"context"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/bdougie/framesearch/internal/models"
)

func TestMirrorUploadSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	endpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := NewFrameStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.PersistFrame([]byte("jpeg"), models.Frame{ID: "a", Filename: "v_frame_00000.jpg"}))
	snapshot, err := store.Finalize()
	require.NoError(t, err)

	mirror, err := NewMirror(MirrorConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "frames",
	})
	require.NoError(t, err)
	require.NoError(t, mirror.EnsureBucket(ctx))
	require.NoError(t, mirror.EnsureBucket(ctx))

	n, err := mirror.UploadSnapshot(ctx, dir, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, key := range []string{"frames/v_frame_00000.jpg", "frames/" + MetadataFile} {
		_, err := mirror.client.StatObject(ctx, "frames", key, miniogo.StatObjectOptions{})
		assert.NoError(t, err, key)
	}
}
