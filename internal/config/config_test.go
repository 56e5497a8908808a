package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/videos", cfg.VideosDir)
	assert.Equal(t, "data/frames", cfg.FramesDir)
	assert.Equal(t, 1.0, cfg.FramesPerSecond)
	assert.Equal(t, 0, cfg.MaxFramesPerVideo)
	assert.Equal(t, []string{".mp4", ".avi", ".mov", ".mkv"}, cfg.VideoExtensions)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.EmbeddingModel)
	assert.Equal(t, "ember_frames", cfg.CollectionName)
	assert.Equal(t, 100, cfg.IndexBatchSize)
	assert.True(t, cfg.CaptionEnabled)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FRAMES_PER_SECOND", "2.5")
	t.Setenv("MAX_FRAMES_PER_VIDEO", "10")
	t.Setenv("VECTOR_BACKEND", "pgvector")
	t.Setenv("USE_CLIP_CAPTIONING", "false")
	t.Setenv("VIDEO_EXTENSIONS", ".mp4,.webm")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.FramesPerSecond)
	assert.Equal(t, 10, cfg.MaxFramesPerVideo)
	assert.Equal(t, VectorPgvector, cfg.VectorBackend)
	assert.False(t, cfg.CaptionEnabled)
	assert.Equal(t, []string{".mp4", ".webm"}, cfg.VideoExtensions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero fps", func(c *Config) { c.FramesPerSecond = 0 }, "FRAMES_PER_SECOND"},
		{"negative cap", func(c *Config) { c.MaxFramesPerVideo = -1 }, "MAX_FRAMES_PER_VIDEO"},
		{"empty collection", func(c *Config) { c.CollectionName = " " }, "COLLECTION_NAME"},
		{"bad batch", func(c *Config) { c.IndexBatchSize = 0 }, "INDEX_BATCH_SIZE"},
		{"openai without key", func(c *Config) { c.EmbeddingBackend = EmbeddingOpenAI }, "OPENAI_API_KEY"},
		{"unknown store", func(c *Config) { c.VectorBackend = "chroma" }, "VECTOR_BACKEND"},
		{"unknown vocabulary", func(c *Config) { c.CaptionVocabulary = "ember" }, "CAPTION_VOCABULARY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "DEBUG"}
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	cfg.LogLevel = "bogus"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
