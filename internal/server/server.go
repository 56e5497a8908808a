// Package server exposes frame search over HTTP and serves the extracted
// frame images.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdougie/framesearch/internal/metrics"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/search"
)

const shutdownTimeout = 10 * time.Second

// Searcher answers ranked frame queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.ScoredFrame, error)
	Frames() int
}

type Options struct {
	Addr          string
	FramesDir     string
	PublicBaseURL string
}

type Server struct {
	searcher Searcher
	opts     Options
	logger   *slog.Logger
	handler  http.Handler
}

// FrameResult is one search hit as returned to clients.
type FrameResult struct {
	ImageURL        string  `json:"image_url"`
	VideoFilename   string  `json:"video_filename"`
	FrameNumber     int     `json:"frame_number"`
	SimilarityScore float64 `json:"similarity_score"`
}

type SearchResponse struct {
	Results []FrameResult `json:"results"`
	Count   int           `json:"count"`
	Query   string        `json:"query"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func New(searcher Searcher, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		searcher: searcher,
		opts:     opts,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /frames/", http.StripPrefix("/frames/", http.FileServer(http.Dir(opts.FramesDir))))

	s.handler = cors(mux)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Search API listening", "addr", s.opts.Addr, "frames", s.searcher.Frames())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down search API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the video frame search API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "frames": s.searcher.Frames()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "query is required"})
		return
	}

	limit := search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < search.MinLimit || n > search.MaxLimit {
			metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: search.ErrInvalidLimit.Error()})
			return
		}
		limit = n
	}

	frames, err := s.searcher.Search(r.Context(), query, limit)
	if errors.Is(err, search.ErrInvalidLimit) || errors.Is(err, search.ErrEmptyQuery) {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Search failed", "query", query, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Search failed"})
		return
	}

	base := s.baseURL(r)
	resp := SearchResponse{
		Results: make([]FrameResult, 0, len(frames)),
		Query:   query,
	}
	for _, f := range frames {
		resp.Results = append(resp.Results, FrameResult{
			ImageURL:        base + "/frames/" + f.Frame.Filename,
			VideoFilename:   f.Frame.SourceVideo,
			FrameNumber:     f.Frame.FrameIndex,
			SimilarityScore: f.Similarity,
		})
	}
	resp.Count = len(resp.Results)

	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return strings.TrimRight(s.opts.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
