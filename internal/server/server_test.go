package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/framesearch/internal/models"
)

type stubSearcher struct {
	results   []models.ScoredFrame
	err       error
	lastLimit int
}

func (s *stubSearcher) Search(_ context.Context, _ string, limit int) ([]models.ScoredFrame, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.results[:min(limit, len(s.results))], nil
}

func (s *stubSearcher) Frames() int { return len(s.results) }

func newTestServer(t *testing.T, searcher Searcher, base string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	srv := New(searcher, Options{FramesDir: dir, PublicBaseURL: base}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, dir
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func sample() []models.ScoredFrame {
	return []models.ScoredFrame{
		{Frame: models.Frame{ID: "a", Filename: "clip_frame_0000.jpg", SourceVideo: "clip.mp4", FrameIndex: 0}, Similarity: 0.82},
		{Frame: models.Frame{ID: "b", Filename: "clip_frame_0001.jpg", SourceVideo: "clip.mp4", FrameIndex: 30}, Similarity: 0.61},
	}
}

func TestSearchEndpoint(t *testing.T) {
	stub := &stubSearcher{results: sample()}
	ts, _ := newTestServer(t, stub, "")

	resp, body := get(t, ts.URL+"/api/search?query=person+with+phone")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 4, stub.lastLimit)

	var out SearchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "person with phone", out.Query)
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Results, 2)
	assert.Equal(t, ts.URL+"/frames/clip_frame_0000.jpg", out.Results[0].ImageURL)
	assert.Equal(t, "clip.mp4", out.Results[0].VideoFilename)
	assert.Equal(t, 30, out.Results[1].FrameNumber)
	assert.InDelta(t, 0.82, out.Results[0].SimilarityScore, 1e-9)
}

func TestSearchUsesPublicBaseURL(t *testing.T) {
	ts, _ := newTestServer(t, &stubSearcher{results: sample()}, "https://frames.example.com/")

	_, body := get(t, ts.URL+"/api/search?query=x&limit=1")
	var out SearchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "https://frames.example.com/frames/clip_frame_0000.jpg", out.Results[0].ImageURL)
}

func TestSearchValidation(t *testing.T) {
	ts, _ := newTestServer(t, &stubSearcher{results: sample()}, "")

	for _, path := range []string{
		"/api/search",
		"/api/search?query=",
		"/api/search?query=x&limit=0",
		"/api/search?query=x&limit=21",
		"/api/search?query=x&limit=abc",
	} {
		resp, _ := get(t, ts.URL+path)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, path)
	}

	resp, _ := get(t, ts.URL+"/api/search?query=x&limit=20")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearchFailure(t *testing.T) {
	ts, _ := newTestServer(t, &stubSearcher{err: errors.New("connection refused")}, "")

	resp, body := get(t, ts.URL+"/api/search?query=x")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"Search failed"}`, string(body))
}

func TestEmptyResults(t *testing.T) {
	ts, _ := newTestServer(t, &stubSearcher{}, "")

	_, body := get(t, ts.URL+"/api/search?query=x")
	assert.JSONEq(t, `{"results":[],"count":0,"query":"x"}`, string(body))
}

func TestStaticFramesAndMisc(t *testing.T) {
	ts, dir := newTestServer(t, &stubSearcher{results: sample()}, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip_frame_0000.jpg"), []byte("jpegdata"), 0o644))

	resp, body := get(t, ts.URL+"/frames/clip_frame_0000.jpg")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpegdata", string(body))

	resp, _ = get(t, ts.URL+"/frames/missing.jpg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Welcome")

	resp, body = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"frames":2}`, string(body))

	resp, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "framesearch_search")
}
