// Package indexer turns frame records into searchable text documents and
// loads them into the vector collection.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bdougie/framesearch/internal/metrics"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/search"
	"github.com/bdougie/framesearch/internal/storage"
	"github.com/bdougie/framesearch/internal/tracing"
)

const defaultBatchSize = 100

var ErrNothingToIndex = errors.New("no frame documents to index")

// DefaultQueries are the canned queries run after indexing with --test.
var DefaultQueries = []string{
	"Person holding a phone",
	"Outdoor scene in daylight",
	"Person smiling",
	"Urban environment",
}

// Embedder is the embedding service shared with the retriever.
type Embedder interface {
	Model() string
	Dimension() int
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Indexer struct {
	collection storage.Collection
	embedder   Embedder
	batchSize  int
	logger     *slog.Logger
	tracer     trace.Tracer
}

func New(collection storage.Collection, embedder Embedder, batchSize int, logger *slog.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Indexer{
		collection: collection,
		embedder:   embedder,
		batchSize:  batchSize,
		logger:     logger,
		tracer:     tracing.Tracer("indexer"),
	}
}

// BuildDocument renders the text that represents a frame in the index.
func BuildDocument(f models.Frame) string {
	var parts []string
	if f.HasCaption() {
		parts = append(parts, f.Caption)
	}
	stem := strings.TrimSuffix(f.SourceVideo, filepath.Ext(f.SourceVideo))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	parts = append(parts, "Video: "+stem, "Frame from video content", "Scene from video")
	return strings.Join(parts, " ")
}

func (ix *Indexer) info() storage.CollectionInfo {
	return storage.CollectionInfo{
		Name:      ix.collection.Name(),
		Model:     ix.embedder.Model(),
		Dimension: ix.embedder.Dimension(),
	}
}

// RecreateCollection drops the collection and creates it empty for the
// current embedding model.
func (ix *Indexer) RecreateCollection(ctx context.Context) error {
	if err := ix.collection.Recreate(ctx, ix.info()); err != nil {
		return fmt.Errorf("failed to recreate collection %s: %w", ix.collection.Name(), err)
	}
	ix.logger.Info("Recreated collection", "name", ix.collection.Name(), "model", ix.embedder.Model())
	return nil
}

// IndexBatch embeds and upserts every frame in the snapshot, in id order,
// and returns how many documents were written.
func (ix *Indexer) IndexBatch(ctx context.Context, snapshot storage.Snapshot) (int, error) {
	ctx, span := ix.tracer.Start(ctx, "indexer.IndexBatch", trace.WithAttributes(
		attribute.Int("frames", len(snapshot)),
		attribute.Int("batch_size", ix.batchSize),
	))
	defer span.End()

	n, err := ix.indexBatch(ctx, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return n, err
	}
	span.SetAttributes(attribute.Int("indexed", n))
	return n, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, snapshot storage.Snapshot) (int, error) {
	var entries []storage.VectorEntry
	for _, id := range snapshot.SortedIDs() {
		frame := snapshot[id]
		doc := BuildDocument(frame)
		if strings.TrimSpace(doc) == "" {
			continue
		}
		entries = append(entries, storage.VectorEntry{
			ID:       id,
			Document: doc,
			Metadata: storage.EntryMetadata{
				VideoFilename: frame.SourceVideo,
				FrameNumber:   frame.FrameIndex,
				Timestamp:     frame.Timestamp,
			},
		})
	}
	if len(entries) == 0 {
		return 0, ErrNothingToIndex
	}

	if err := ix.collection.Ensure(ctx, ix.info()); err != nil {
		return 0, fmt.Errorf("failed to prepare collection %s: %w", ix.collection.Name(), err)
	}

	batches := (len(entries) + ix.batchSize - 1) / ix.batchSize
	indexed := 0
	for b := 0; b < batches; b++ {
		batch := entries[b*ix.batchSize : min((b+1)*ix.batchSize, len(entries))]

		docs := make([]string, len(batch))
		for i := range batch {
			docs[i] = batch[i].Document
		}
		vectors, err := ix.embedder.EmbedDocuments(ctx, docs)
		if err != nil {
			return indexed, fmt.Errorf("failed to embed batch %d/%d: %w", b+1, batches, err)
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := ix.collection.Upsert(ctx, batch); err != nil {
			return indexed, fmt.Errorf("failed to upsert batch %d/%d: %w", b+1, batches, err)
		}

		indexed += len(batch)
		metrics.IndexBatchesTotal.Inc()
		metrics.DocumentsIndexedTotal.Add(float64(len(batch)))
		ix.logger.Info(fmt.Sprintf("Indexed batch %d/%d", b+1, batches), "documents", len(batch))
	}

	return indexed, nil
}

// SmokeTest runs each query against the collection and prints the top n
// matches with their similarity and document text.
func (ix *Indexer) SmokeTest(ctx context.Context, w io.Writer, queries []string, n int) error {
	for _, query := range queries {
		vector, err := ix.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to embed query %q: %w", query, err)
		}
		hits, err := ix.collection.Query(ctx, vector, n)
		if err != nil {
			return fmt.Errorf("failed to query %q: %w", query, err)
		}

		fmt.Fprintf(w, "\nQuery: '%s'\n", query)
		if len(hits) == 0 {
			fmt.Fprintln(w, "  No results")
			continue
		}
		for i, hit := range hits {
			fmt.Fprintf(w, "  Result %d: ID=%s, Similarity=%.2f\n", i+1, hit.ID, search.Similarity(hit))
			fmt.Fprintf(w, "  Document: %s\n", hit.Document)
		}
	}
	return nil
}
