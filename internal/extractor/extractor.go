package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bdougie/framesearch/internal/metrics"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/tracing"
)

// ErrNoVideos means the videos directory holds no supported video file.
var ErrNoVideos = errors.New("no video files found")

// FrameSink persists extracted frames. Discard removes frames of a video
// that failed after some of them were persisted.
type FrameSink interface {
	PersistFrame(image []byte, rec models.Frame) error
	Discard(ids []string) error
}

// FrameCaptioner captions a video's frames once they are on disk.
type FrameCaptioner interface {
	CaptionFrames(ctx context.Context, frames []models.Frame, framesDir string) map[string]string
}

// Options controls sampling and discovery.
type Options struct {
	VideosDir       string
	FramesDir       string
	Extensions      []string
	FramesPerSecond float64
	MaxFrames       int
}

// Extractor turns every video in a directory into persisted frame records.
type Extractor struct {
	decoder  Decoder
	sink     FrameSink
	captions FrameCaptioner
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an extractor. captions may be nil to skip captioning.
func New(decoder Decoder, sink FrameSink, captions FrameCaptioner, opts Options, logger *slog.Logger) *Extractor {
	return &Extractor{
		decoder:  decoder,
		sink:     sink,
		captions: captions,
		opts:     opts,
		logger:   logger,
		tracer:   tracing.Tracer("extractor"),
	}
}

// VideoFailure records a video that could not be processed.
type VideoFailure struct {
	Video string
	Err   error
}

// Summary reports one batch extraction run.
type Summary struct {
	Videos    int
	Frames    int
	Captioned int
	PerVideo  map[string]int
	Failures  []VideoFailure
}

// ListVideos returns the supported video files in the videos directory,
// sorted by name.
func (e *Extractor) ListVideos() ([]string, error) {
	entries, err := os.ReadDir(e.opts.VideosDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read videos directory '%s': %w", e.opts.VideosDir, err)
	}

	var videos []string
	for _, entry := range entries {
		if entry.IsDir() || !e.supported(entry.Name()) {
			continue
		}
		videos = append(videos, filepath.Join(e.opts.VideosDir, entry.Name()))
	}
	sort.Strings(videos)
	return videos, nil
}

func (e *Extractor) supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range e.opts.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// ProcessAll extracts every video independently. A failed video is logged and
// skipped; only finding no videos at all fails the run.
func (e *Extractor) ProcessAll(ctx context.Context) (Summary, error) {
	videos, err := e.ListVideos()
	if err != nil {
		return Summary{}, err
	}
	if len(videos) == 0 {
		return Summary{}, fmt.Errorf("%w in %s", ErrNoVideos, e.opts.VideosDir)
	}

	e.logger.Info("found video files to process", "count", len(videos))

	summary := Summary{Videos: len(videos), PerVideo: make(map[string]int, len(videos))}
	for _, video := range videos {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		name := filepath.Base(video)
		frames, err := e.ExtractVideo(ctx, video)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			metrics.VideosProcessedTotal.WithLabelValues("failed").Inc()
			e.logger.Warn("failed to process video", "video", name, "error", err)
			summary.Failures = append(summary.Failures, VideoFailure{Video: name, Err: err})
			continue
		}

		metrics.VideosProcessedTotal.WithLabelValues("ok").Inc()
		summary.PerVideo[name] = len(frames)
		summary.Frames += len(frames)
		for _, f := range frames {
			if f.HasCaption() {
				summary.Captioned++
			}
		}
	}

	return summary, nil
}

// ExtractVideo samples, persists and captions the frames of one video.
func (e *Extractor) ExtractVideo(ctx context.Context, videoPath string) ([]models.Frame, error) {
	name := filepath.Base(videoPath)
	ctx, span := e.tracer.Start(ctx, "extractor.ExtractVideo",
		trace.WithAttributes(attribute.String("video", name)))
	defer span.End()

	frames, err := e.extract(ctx, videoPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("frames", len(frames)))
	return frames, nil
}

func (e *Extractor) extract(ctx context.Context, videoPath string) ([]models.Frame, error) {
	name := filepath.Base(videoPath)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	info, err := e.decoder.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	sampler := NewSampler(info.FPS, e.opts.FramesPerSecond, e.opts.MaxFrames)
	e.logger.Info("processing video", "video", name, "native_fps", info.FPS, "interval", sampler.Interval())

	var frames []models.Frame
	err = e.decoder.Decode(ctx, videoPath, func(index int, image []byte) error {
		if !sampler.Select(index) {
			return nil
		}

		rec := models.Frame{
			ID:          uuid.NewString(),
			Filename:    FrameFilename(stem, sampler.Selected()-1),
			SourceVideo: name,
			FrameIndex:  index,
			Timestamp:   timestamp(index, info.FPS),
		}
		if err := e.sink.PersistFrame(image, rec); err != nil {
			return err
		}
		frames = append(frames, rec)

		if sampler.Done() {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		e.discard(name, frames)
		return nil, err
	}
	metrics.FramesExtractedTotal.Add(float64(len(frames)))

	if e.captions != nil && len(frames) > 0 {
		captions := e.captions.CaptionFrames(ctx, frames, e.opts.FramesDir)
		for i := range frames {
			frames[i].Caption = captions[frames[i].ID]
		}
		e.logger.Debug("captioned frames", "video", name, "captioned", len(captions), "frames", len(frames))
	}

	e.logger.Info("extracted frames", "video", name, "frames", len(frames))
	return frames, nil
}

// discard drops the frames a failed video managed to persist so they never
// reach the snapshot.
func (e *Extractor) discard(video string, frames []models.Frame) {
	if len(frames) == 0 {
		return
	}
	ids := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
	}
	if err := e.sink.Discard(ids); err != nil {
		e.logger.Warn("failed to discard partial frames", "video", video, "frames", len(ids), "error", err)
		return
	}
	e.logger.Debug("discarded partial frames", "video", video, "frames", len(ids))
}

func timestamp(index int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(index) / fps
}
