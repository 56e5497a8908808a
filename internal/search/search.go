package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/storage"
	"github.com/bdougie/framesearch/internal/tracing"
)

const (
	MinLimit     = 1
	MaxLimit     = 20
	DefaultLimit = 4
)

var (
	ErrInvalidLimit = fmt.Errorf("limit must be between %d and %d", MinLimit, MaxLimit)
	ErrEmptyQuery   = errors.New("query must not be empty")
)

// QueryEmbedder embeds query text with the model the collection was built
// with.
type QueryEmbedder interface {
	Model() string
	Dimension() int
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers natural-language queries against the vector collection
// and joins hits back to frame records. It holds only read-only state and is
// safe for concurrent use.
type Retriever struct {
	collection storage.Collection
	embedder   QueryEmbedder
	frames     storage.Snapshot
	logger     *slog.Logger
	tracer     trace.Tracer
	verified   atomic.Bool
}

// NewRetriever checks that an existing collection was built with the
// embedder's model. A collection that does not exist yet is accepted and
// checked on first use.
func NewRetriever(ctx context.Context, collection storage.Collection, embedder QueryEmbedder, frames storage.Snapshot, logger *slog.Logger) (*Retriever, error) {
	r := &Retriever{
		collection: collection,
		embedder:   embedder,
		frames:     frames,
		logger:     logger,
		tracer:     tracing.Tracer("search"),
	}
	if err := r.checkParity(ctx); err != nil && !errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, err
	}
	return r, nil
}

func (r *Retriever) checkParity(ctx context.Context) error {
	if r.verified.Load() {
		return nil
	}
	info, err := r.collection.Info(ctx)
	if err != nil {
		return err
	}
	if err := storage.CheckParity(info, storage.CollectionInfo{Model: r.embedder.Model(), Dimension: r.embedder.Dimension()}); err != nil {
		return err
	}
	r.verified.Store(true)
	return nil
}

// Frames is the number of frame records the retriever can resolve.
func (r *Retriever) Frames() int {
	return len(r.frames)
}

// Search returns at most limit frames, best match first, in the collection's
// ranking order. Hits without a frame record are dropped. Nothing indexed
// yet is an empty result.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]models.ScoredFrame, error) {
	if limit < MinLimit || limit > MaxLimit {
		return nil, ErrInvalidLimit
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := r.tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("query", query),
		attribute.Int("limit", limit),
	))
	defer span.End()

	results, err := r.search(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (r *Retriever) search(ctx context.Context, query string, limit int) ([]models.ScoredFrame, error) {
	if err := r.checkParity(ctx); err != nil {
		if errors.Is(err, storage.ErrCollectionNotFound) {
			return []models.ScoredFrame{}, nil
		}
		return nil, err
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.collection.Query(ctx, vector, limit)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return []models.ScoredFrame{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	results := make([]models.ScoredFrame, 0, len(hits))
	for _, hit := range hits {
		frame, ok := r.frames[hit.ID]
		if !ok {
			r.logger.Debug("dropping hit without frame record", "id", hit.ID)
			continue
		}
		results = append(results, models.ScoredFrame{
			Frame:      frame,
			Similarity: Similarity(hit),
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
