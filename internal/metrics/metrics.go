package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VideosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framesearch_videos_processed_total",
		Help: "Total number of videos processed, by status",
	}, []string{"status"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesearch_frames_extracted_total",
		Help: "Total number of frames extracted across all videos",
	})

	CaptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framesearch_captions_total",
		Help: "Total number of caption attempts, by result",
	}, []string{"result"})

	IndexBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesearch_index_batches_total",
		Help: "Total number of batches upserted into the vector collection",
	})

	DocumentsIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesearch_documents_indexed_total",
		Help: "Total number of frame documents indexed",
	})

	SearchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framesearch_search_requests_total",
		Help: "Total number of search requests, by status",
	}, []string{"status"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framesearch_search_duration_seconds",
		Help:    "Duration of search requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)
