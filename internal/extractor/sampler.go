package extractor

import (
	"fmt"
	"math"
)

// Interval is the decoded-frame stride that approximates targetFPS on a video
// running at nativeFPS. It is never less than 1.
func Interval(nativeFPS, targetFPS float64) int {
	if nativeFPS <= 0 || targetFPS <= 0 {
		return 1
	}
	return max(1, int(math.Floor(nativeFPS/targetFPS)))
}

// Sampler decides which decoded frames of one video are kept.
type Sampler struct {
	interval int
	limit    int
	selected int
}

// NewSampler returns a sampler for one video. maxFrames <= 0 means no cap.
func NewSampler(nativeFPS, targetFPS float64, maxFrames int) *Sampler {
	return &Sampler{
		interval: Interval(nativeFPS, targetFPS),
		limit:    max(0, maxFrames),
	}
}

// Select reports whether decoded frame i is kept and counts it if so. Frames
// are kept when i is a multiple of the interval and the cap is not reached.
func (s *Sampler) Select(i int) bool {
	if s.Done() || i%s.interval != 0 {
		return false
	}
	s.selected++
	return true
}

// Done reports whether the cap has been reached; decoding can stop.
func (s *Sampler) Done() bool {
	return s.limit > 0 && s.selected >= s.limit
}

func (s *Sampler) Selected() int { return s.selected }
func (s *Sampler) Interval() int { return s.interval }

// FrameFilename names the seq-th selected frame of a video.
func FrameFilename(stem string, seq int) string {
	return fmt.Sprintf("%s_frame_%05d.jpg", stem, seq)
}
