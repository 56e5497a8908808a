package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/bdougie/framesearch/internal/config"
)

// ErrUnavailable is returned by Caption when no captioning backend could be
// loaded at startup.
var ErrUnavailable = errors.New("captioning unavailable")

// Captioner produces a short text description of a frame image. Captioning is
// best-effort: callers treat any error as "no caption".
type Captioner interface {
	Available() bool
	Caption(ctx context.Context, imagePath string) (string, error)
	Close() error
}

type unavailable struct{}

func (unavailable) Available() bool { return false }
func (unavailable) Caption(context.Context, string) (string, error) {
	return "", ErrUnavailable
}
func (unavailable) Close() error { return nil }

// Unavailable returns a Captioner that never captions.
func Unavailable() Captioner {
	return unavailable{}
}

// New builds the configured captioner. It never fails: when captioning is
// disabled or the backend cannot load, it logs the reason once and returns a
// captioner whose Available reports false.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) Captioner {
	if !cfg.CaptionEnabled {
		logger.Info("captioning disabled")
		return Unavailable()
	}

	labels := Labels(cfg.CaptionVocabulary)

	switch cfg.CaptionBackend {
	case config.CaptionOllama:
		c, err := NewAgentCaptioner(ctx, AgentConfig{
			Host:   cfg.OllamaHost,
			Port:   cfg.OllamaPort,
			Model:  cfg.OllamaModel,
			Labels: labels,
		}, logger)
		if err != nil {
			logger.Warn("vision agent unavailable, frames will not be captioned", "error", err)
			return Unavailable()
		}
		logger.Info("vision agent loaded for automatic captioning", "model", cfg.OllamaModel)
		return c

	default:
		for _, p := range []string{cfg.ClipImageModelPath, cfg.ClipTextModelPath, cfg.ClipTokenizerPath} {
			if _, err := os.Stat(p); err != nil {
				logger.Warn("CLIP model files missing, frames will not be captioned", "path", p)
				return Unavailable()
			}
		}

		enc, err := NewCLIPEncoder(CLIPConfig{
			ImageModelPath: cfg.ClipImageModelPath,
			TextModelPath:  cfg.ClipTextModelPath,
			TokenizerPath:  cfg.ClipTokenizerPath,
			LibPath:        cfg.ONNXRuntimeLib,
		})
		if err != nil {
			logger.Warn("failed to load CLIP model, frames will not be captioned", "error", err)
			return Unavailable()
		}

		c, err := NewLabelCaptioner(ctx, enc, labels)
		if err != nil {
			enc.Close()
			logger.Warn("failed to encode caption vocabulary, frames will not be captioned", "error", err)
			return Unavailable()
		}
		logger.Info("CLIP model loaded for automatic captioning", "labels", len(labels), "vocabulary", cfg.CaptionVocabulary)
		return c
	}
}
