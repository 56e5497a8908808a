package storage

import (
	"context"
	"fmt"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorConfig holds the object store the frame corpus is copied to.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Mirror uploads frame images and the metadata snapshot to an S3-compatible
// bucket.
type Mirror struct {
	client *miniogo.Client
	bucket string
}

func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Mirror{client: client, bucket: cfg.Bucket}, nil
}

func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", m.bucket, err)
		}
	}
	return nil
}

// UploadSnapshot copies every frame image of the snapshot and then the
// metadata file itself, so the bucket never lists records without images.
func (m *Mirror) UploadSnapshot(ctx context.Context, framesDir string, snapshot Snapshot) (int, error) {
	uploaded := 0
	for _, id := range snapshot.SortedIDs() {
		f := snapshot[id]
		_, err := m.client.FPutObject(ctx, m.bucket, "frames/"+f.Filename, filepath.Join(framesDir, f.Filename),
			miniogo.PutObjectOptions{ContentType: "image/jpeg"})
		if err != nil {
			return uploaded, fmt.Errorf("upload frame %s: %w", f.Filename, err)
		}
		uploaded++
	}

	_, err := m.client.FPutObject(ctx, m.bucket, "frames/"+MetadataFile, filepath.Join(framesDir, MetadataFile),
		miniogo.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return uploaded, fmt.Errorf("upload metadata: %w", err)
	}
	return uploaded, nil
}
