package analyzer

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bdougie/framesearch/internal/metrics"
	"github.com/bdougie/framesearch/internal/models"
)

const maxWorkers = 4 // Adjust based on your CPU cores

// CaptionStore receives captions for frames that are already persisted.
type CaptionStore interface {
	SetCaption(id, caption string) error
}

// Processor captions batches of persisted frames with a bounded worker pool.
type Processor struct {
	captioner Captioner
	store     CaptionStore
	workers   int
	logger    *slog.Logger
}

func NewProcessor(captioner Captioner, store CaptionStore, workers int, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = maxWorkers
	}
	return &Processor{
		captioner: captioner,
		store:     store,
		workers:   workers,
		logger:    logger,
	}
}

// CaptionFrames captions every frame whose image lives in framesDir and
// returns the captions stored, keyed by frame id. A frame that fails keeps no
// caption.
func (p *Processor) CaptionFrames(ctx context.Context, frames []models.Frame, framesDir string) map[string]string {
	captions := make(map[string]string)
	if !p.captioner.Available() || len(frames) == 0 {
		return captions
	}

	workChan := make(chan models.WorkItem, len(frames))
	resultsChan := make(chan models.CaptionResult, len(frames))

	var wg sync.WaitGroup

	remainingFrames := atomic.Int64{}
	remainingFrames.Store(int64(len(frames)))

	// Start worker pool
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				caption, err := p.captioner.Caption(ctx, work.ImagePath)
				resultsChan <- models.CaptionResult{FrameID: work.FrameID, Caption: caption, Err: err}

				remaining := remainingFrames.Add(-1)
				p.logger.Debug("captioning progress", "remaining", remaining, "total", work.Total)
			}
		}()
	}

	// Send work to workers
	go func() {
		defer close(workChan)
		for i, f := range frames {
			select {
			case workChan <- models.WorkItem{
				FrameID:   f.ID,
				ImagePath: filepath.Join(framesDir, f.Filename),
				FrameNum:  i + 1,
				Total:     len(frames),
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for result := range resultsChan {
		if result.Err != nil {
			metrics.CaptionsTotal.WithLabelValues("error").Inc()
			p.logger.Warn("error generating frame description", "frame_id", result.FrameID, "error", result.Err)
			continue
		}
		if result.Caption == "" {
			metrics.CaptionsTotal.WithLabelValues("empty").Inc()
			continue
		}
		if err := p.store.SetCaption(result.FrameID, result.Caption); err != nil {
			metrics.CaptionsTotal.WithLabelValues("error").Inc()
			p.logger.Warn("failed to attach caption", "frame_id", result.FrameID, "error", err)
			continue
		}
		metrics.CaptionsTotal.WithLabelValues("ok").Inc()
		captions[result.FrameID] = result.Caption
	}

	return captions
}
