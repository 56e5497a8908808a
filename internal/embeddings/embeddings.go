package embeddings

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

const (
	defaultWorkers   = 4
	defaultChunkSize = 32
	maxCachedQueries = 4096
)

// Embedder turns text into fixed-length vectors. Implementations must return
// one vector per input, in input order.
type Embedder interface {
	Model() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// Result represents the result of embedding one chunk of documents
type Result struct {
	Embeddings [][]float32
	Error      error
}

// Work represents a unit of embedding work
type Work struct {
	ctx    context.Context
	Texts  []string
	Result chan<- Result
}

// Service is the single embedding entry point shared by indexing and
// retrieval, so both always use the same model.
type Service struct {
	embedder   Embedder
	numWorkers int
	chunkSize  int
	workQueue  chan Work
	cache      sync.Map // Thread-safe map for caching query embeddings
	cached     atomic.Int64
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService creates a new embedding service with the specified number of workers
func NewService(embedder Embedder, numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}

	service := &Service{
		embedder:   embedder,
		numWorkers: numWorkers,
		chunkSize:  defaultChunkSize,
		workQueue:  make(chan Work, numWorkers*2),
	}

	service.startWorkers()

	return service
}

// Model names the embedding model behind the service.
func (s *Service) Model() string {
	return s.embedder.Model()
}

// Dimension is the length of every vector the service returns.
func (s *Service) Dimension() int {
	return s.embedder.Dimension()
}

// startWorkers starts a pool of goroutines for document embedding
func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for work := range s.workQueue {
				vectors, err := s.embedder.Embed(work.ctx, work.Texts)
				if err == nil && len(vectors) != len(work.Texts) {
					err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(work.Texts))
				}
				work.Result <- Result{Embeddings: vectors, Error: err}
			}
		}()
	}
}

// EmbedDocuments embeds texts across the worker pool and returns vectors in
// input order. Any chunk failure fails the whole call.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var results []chan Result
	for start := 0; start < len(texts); start += s.chunkSize {
		end := min(start+s.chunkSize, len(texts))
		resultChan := make(chan Result, 1)

		select {
		case s.workQueue <- Work{ctx: ctx, Texts: texts[start:end], Result: resultChan}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		results = append(results, resultChan)
	}

	embeddings := make([][]float32, 0, len(texts))
	for i, resultChan := range results {
		select {
		case res := <-resultChan:
			if res.Error != nil {
				return nil, fmt.Errorf("embedding chunk %d failed: %w", i, res.Error)
			}
			embeddings = append(embeddings, res.Embeddings...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return embeddings, nil
}

// EmbedQuery embeds a single query string, caching by exact text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := s.cache.Load(text); ok {
		if embedding, valid := cached.([]float32); valid {
			return embedding, nil
		}
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	if s.cached.Load() < maxCachedQueries {
		if _, loaded := s.cache.LoadOrStore(text, vectors[0]); !loaded {
			s.cached.Add(1)
		}
	}
	return vectors[0], nil
}

// Close shuts down the worker pool and the underlying embedder
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.workQueue)
		s.wg.Wait()
		err = s.embedder.Close()
	})
	return err
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
