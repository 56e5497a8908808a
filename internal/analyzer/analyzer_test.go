package analyzer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/framesearch/internal/config"
	"github.com/bdougie/framesearch/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// axisEncoder maps label i to the i-th unit vector and every image to a fixed
// vector.
type axisEncoder struct {
	image []float32
}

func (e *axisEncoder) EncodeImage(context.Context, string) ([]float32, error) {
	return e.image, nil
}

func (e *axisEncoder) EncodeTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, len(texts))
		v[i] = 1
		out[i] = v
	}
	return out, nil
}

func (e *axisEncoder) Close() error { return nil }

func TestLabelCaptionerTopThree(t *testing.T) {
	enc := &axisEncoder{image: []float32{0.5, 0.1, 0.9, 0.3}}
	c, err := NewLabelCaptioner(context.Background(), enc, []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.True(t, c.Available())

	caption, err := c.Caption(context.Background(), "frame.jpg")
	require.NoError(t, err)
	assert.Equal(t, "c, a, d", caption)
}

func TestLabelCaptionerEmptyVocabulary(t *testing.T) {
	_, err := NewLabelCaptioner(context.Background(), &axisEncoder{}, nil)
	require.Error(t, err)
}

func TestSoftmaxAndTopK(t *testing.T) {
	probs := softmax([]float64{1, 3, 2})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, []int{1, 2, 0}, topK(probs, 3))
	assert.Equal(t, []int{1}, topK(probs, 1))
	assert.Equal(t, []int{0, 1}, topK([]float64{0.5, 0.5}, 5))
}

func TestLabels(t *testing.T) {
	narrow := Labels(config.VocabularyNarrow)
	general := Labels(config.VocabularyGeneral)

	assert.Len(t, narrow, 20)
	assert.Contains(t, narrow, "Ember holding phone")
	assert.NotContains(t, narrow, "cell phone")

	assert.Greater(t, len(general), len(narrow))
	assert.Contains(t, general, "cell phone")
	assert.Contains(t, general, "person using phone")
	assert.Contains(t, general, "restaurant scene")
	assert.Equal(t, "Ember character", general[0])
}

func TestNewUnavailable(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := &config.Config{CaptionEnabled: false}
		c := New(context.Background(), cfg, discardLogger())
		assert.False(t, c.Available())

		_, err := c.Caption(context.Background(), "x.jpg")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("missing model files", func(t *testing.T) {
		dir := t.TempDir()
		cfg := &config.Config{
			CaptionEnabled:     true,
			CaptionBackend:     config.CaptionCLIP,
			CaptionVocabulary:  config.VocabularyGeneral,
			ClipImageModelPath: filepath.Join(dir, "vision.onnx"),
			ClipTextModelPath:  filepath.Join(dir, "text.onnx"),
			ClipTokenizerPath:  filepath.Join(dir, "tokenizer.json"),
		}
		c := New(context.Background(), cfg, discardLogger())
		assert.False(t, c.Available())
	})

	t.Run("ollama unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		host, port := splitHostPort(t, srv.URL)

		cfg := &config.Config{
			CaptionEnabled: true,
			CaptionBackend: config.CaptionOllama,
			OllamaHost:     host,
			OllamaPort:     port,
		}
		c := New(context.Background(), cfg, discardLogger())
		assert.False(t, c.Available())
	})
}

func TestCheckOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	require.NoError(t, checkOllama(context.Background(), host, port))
}

func splitHostPort(t *testing.T, raw string) (string, int) {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Scheme + "://" + u.Hostname(), port
}

func TestCleanCaption(t *testing.T) {
	assert.Equal(t, "person using phone, outdoor scene, wide shot",
		cleanCaption("- person using phone\n- outdoor scene\n- wide shot\n- urban environment"))
	assert.Equal(t, "Ember smiling", cleanCaption(`"Ember smiling".`))
}

func TestPreprocessUniformImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	fill := color.RGBA{R: 255, G: 0, B: 128, A: 255}
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, fill)
		}
	}

	out := preprocess(img, clipImageSize)
	require.Len(t, out, 3*clipImageSize*clipImageSize)

	plane := clipImageSize * clipImageSize
	center := clipImageSize*clipImageSize/2 + clipImageSize/2
	assert.InDelta(t, (1-clipMean[0])/clipStd[0], out[center], 1e-2)
	assert.InDelta(t, (0-clipMean[1])/clipStd[1], out[plane+center], 1e-2)
	assert.InDelta(t, (128.0/255-clipMean[2])/clipStd[2], out[2*plane+center], 1e-2)
}

type pathCaptioner struct{}

func (pathCaptioner) Available() bool { return true }
func (pathCaptioner) Close() error    { return nil }
func (pathCaptioner) Caption(_ context.Context, path string) (string, error) {
	if strings.Contains(path, "broken") {
		return "", errors.New("decode failed")
	}
	return "caption of " + filepath.Base(path), nil
}

type memoryCaptions struct {
	mu       sync.Mutex
	captions map[string]string
}

func (m *memoryCaptions) SetCaption(id, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captions[id] = caption
	return nil
}

func TestProcessorCaptionFrames(t *testing.T) {
	store := &memoryCaptions{captions: map[string]string{}}
	p := NewProcessor(pathCaptioner{}, store, 2, discardLogger())

	frames := []models.Frame{
		{ID: "1", Filename: "clip_frame_00000.jpg"},
		{ID: "2", Filename: "broken_frame_00001.jpg"},
		{ID: "3", Filename: "clip_frame_00002.jpg"},
	}

	captions := p.CaptionFrames(context.Background(), frames, "/frames")
	assert.Len(t, captions, 2)
	assert.Equal(t, store.captions, captions)
	assert.Equal(t, "caption of clip_frame_00000.jpg", store.captions["1"])
	assert.Equal(t, "caption of clip_frame_00002.jpg", store.captions["3"])
	assert.NotContains(t, store.captions, "2")
}

func TestProcessorSkipsWhenUnavailable(t *testing.T) {
	store := &memoryCaptions{captions: map[string]string{}}
	p := NewProcessor(Unavailable(), store, 2, discardLogger())

	captions := p.CaptionFrames(context.Background(), []models.Frame{{ID: "1", Filename: "a.jpg"}}, "/frames")
	assert.Empty(t, captions)
	assert.Empty(t, store.captions)
}
