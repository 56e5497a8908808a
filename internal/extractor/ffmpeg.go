package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrStop is returned by a FrameFunc to end decoding early without error.
var ErrStop = errors.New("stop decoding")

// VideoInfo is what probing learns about a video before decoding.
type VideoInfo struct {
	FPS    float64
	Width  int
	Height int
}

// FrameFunc receives every decoded frame in order as an encoded JPEG.
type FrameFunc func(index int, image []byte) error

// Decoder probes and decodes video files.
type Decoder interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	Decode(ctx context.Context, path string, fn FrameFunc) error
}

// FFmpegDecoder decodes through the ffmpeg and ffprobe binaries.
type FFmpegDecoder struct {
	// Quality is the MJPEG qscale, 2 (best) to 31.
	Quality int
}

func NewFFmpegDecoder() *FFmpegDecoder {
	return &FFmpegDecoder{Quality: 2}
}

// Probe reads the native frame rate and size of the first video stream.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (VideoInfo, error) {
	if err := ctx.Err(); err != nil {
		return VideoInfo{}, err
	}

	out, err := ffmpeg.Probe(path)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("could not open video file '%s': %w", path, err)
	}
	return parseProbe(out)
}

func parseProbe(out string) (VideoInfo, error) {
	stream := gjson.Get(out, `streams.#(codec_type=="video")`)
	if !stream.Exists() {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}

	fps := parseRate(stream.Get("avg_frame_rate").String())
	if fps <= 0 {
		fps = parseRate(stream.Get("r_frame_rate").String())
	}

	return VideoInfo{
		FPS:    fps,
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
	}, nil
}

// parseRate reads ffprobe rates such as "30000/1001" or "25". Unknown rates
// ("0/0", empty) are 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// command emits every decoded frame exactly once, in decode order. Passthrough
// keeps ffmpeg from duplicating or dropping frames of variable frame rate
// input to fill a constant rate.
func (d *FFmpegDecoder) command(path string) *ffmpeg.Stream {
	return ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format":   "image2pipe",
			"vcodec":   "mjpeg",
			"q:v":      d.Quality,
			"fps_mode": "passthrough",
		}).
		GlobalArgs("-loglevel", "error")
}

// Decode streams every frame of the video as MJPEG over a pipe and hands each
// image to fn. Returning ErrStop from fn terminates ffmpeg.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, fn FrameFunc) error {
	pr, pw := io.Pipe()
	var stderr bytes.Buffer

	done := make(chan error, 1)
	go func() {
		err := d.command(path).
			WithOutput(pw).
			WithErrorOutput(&stderr).
			Run()
		pw.CloseWithError(err)
		done <- err
	}()

	stop := context.AfterFunc(ctx, func() {
		pr.CloseWithError(ctx.Err())
	})
	defer stop()

	splitErr := splitFrames(pr, fn)
	// unblocks ffmpeg when we stopped reading early
	pr.CloseWithError(ErrStop)
	runErr := <-done

	switch {
	case errors.Is(splitErr, ErrStop):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case splitErr != nil:
		return fmt.Errorf("failed to decode '%s': %w%s", path, splitErr, stderrTail(&stderr))
	case runErr != nil:
		return fmt.Errorf("ffmpeg failed on '%s': %w%s", path, runErr, stderrTail(&stderr))
	}
	return nil
}

func stderrTail(b *bytes.Buffer) string {
	s := strings.TrimSpace(b.String())
	if s == "" {
		return ""
	}
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return "\nOutput: " + s
}
