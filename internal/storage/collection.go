package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bdougie/framesearch/internal/config"
)

var (
	// ErrCollectionNotFound means the collection has not been created yet.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrModelMismatch means the collection was built with a different
	// embedding model. Only an explicit recreate resolves it.
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// ScoreKind says how a backend's raw score is to be read.
type ScoreKind int

const (
	// Distance scores are cosine distances in [0,2], lower is closer.
	Distance ScoreKind = iota
	// Similarity scores are cosine similarities, higher is closer.
	Similarity
)

func (k ScoreKind) String() string {
	if k == Similarity {
		return "similarity"
	}
	return "distance"
}

// EntryMetadata is stored alongside each vector.
type EntryMetadata struct {
	VideoFilename string  `json:"video_filename"`
	FrameNumber   int     `json:"frame_number"`
	Timestamp     float64 `json:"timestamp"`
}

// VectorEntry is one indexed frame document.
type VectorEntry struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  EntryMetadata
}

// Hit is one nearest-neighbour result, best first.
type Hit struct {
	ID       string
	Document string
	Score    float64
	Kind     ScoreKind
}

// CollectionInfo is recorded when a collection is created.
type CollectionInfo struct {
	Name      string
	Model     string
	Dimension int
}

// Collection is a persistent, named set of vector entries searched by cosine
// proximity.
type Collection interface {
	Name() string
	// Info returns the stored collection info or ErrCollectionNotFound.
	Info(ctx context.Context) (CollectionInfo, error)
	// Ensure creates the collection when missing and otherwise checks that
	// it was built with the same model and dimension.
	Ensure(ctx context.Context, info CollectionInfo) error
	// Recreate drops the collection with all entries and creates it empty.
	Recreate(ctx context.Context, info CollectionInfo) error
	Upsert(ctx context.Context, entries []VectorEntry) error
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// CheckParity fails with ErrModelMismatch unless both infos name the same
// model and dimension.
func CheckParity(stored, current CollectionInfo) error {
	if stored.Model != current.Model || stored.Dimension != current.Dimension {
		return fmt.Errorf("%w: collection %q was built with %s (%d dims), current model is %s (%d dims); recreate the collection",
			ErrModelMismatch, stored.Name, stored.Model, stored.Dimension, current.Model, current.Dimension)
	}
	return nil
}

// Open connects to the configured vector backend.
func Open(ctx context.Context, cfg *config.Config) (Collection, error) {
	switch cfg.VectorBackend {
	case config.VectorPgvector:
		return NewPostgresCollection(ctx, cfg.DatabaseURL, cfg.CollectionName)
	case config.VectorMilvus:
		return NewMilvusCollection(ctx, MilvusConfig{
			Address:  cfg.MilvusAddr,
			Username: cfg.MilvusUsername,
			Password: cfg.MilvusPassword,
		}, cfg.CollectionName)
	case config.VectorLocal, "":
		return NewBoltCollection(filepath.Join(cfg.IndexDir, "collections.db"), cfg.CollectionName)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound)
}
