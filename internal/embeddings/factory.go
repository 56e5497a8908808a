package embeddings

import (
	"context"
	"fmt"

	"github.com/bdougie/framesearch/internal/config"
)

// New builds the embedder selected by EMBEDDING_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingBackend {
	case config.EmbeddingONNX:
		return NewONNXEmbedder(ONNXConfig{
			Model:         cfg.EmbeddingModel,
			ModelPath:     cfg.EmbeddingModelPath,
			TokenizerPath: cfg.EmbeddingTokenizerPath,
			LibPath:       cfg.ONNXRuntimeLib,
			Dimension:     cfg.EmbeddingDimensions,
		})
	case config.EmbeddingOpenAI:
		return NewOpenAIEmbedder(ctx, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	case config.EmbeddingHash:
		return NewHashEmbedder(cfg.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.EmbeddingBackend)
	}
}
