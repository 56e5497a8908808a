package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bdougie/framesearch/internal/embeddings"
)

const (
	topLabels   = 3
	logitsScale = 100.0
)

// ImageTextEncoder embeds images and texts into a shared space.
type ImageTextEncoder interface {
	EncodeImage(ctx context.Context, imagePath string) ([]float32, error)
	EncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// LabelCaptioner captions a frame with the three candidate labels whose
// embeddings best match the image.
type LabelCaptioner struct {
	encoder   ImageTextEncoder
	labels    []string
	labelVecs [][]float32
}

// NewLabelCaptioner encodes the label vocabulary once up front.
func NewLabelCaptioner(ctx context.Context, encoder ImageTextEncoder, labels []string) (*LabelCaptioner, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("empty label vocabulary")
	}

	vecs, err := encoder.EncodeTexts(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode labels: %w", err)
	}
	if len(vecs) != len(labels) {
		return nil, fmt.Errorf("encoder returned %d label vectors for %d labels", len(vecs), len(labels))
	}

	return &LabelCaptioner{
		encoder:   encoder,
		labels:    labels,
		labelVecs: vecs,
	}, nil
}

func (c *LabelCaptioner) Available() bool { return true }

// Caption returns the top labels joined by ", ", most probable first.
func (c *LabelCaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	imageVec, err := c.encoder.EncodeImage(ctx, imagePath)
	if err != nil {
		return "", err
	}

	logits := make([]float64, len(c.labelVecs))
	for i, lv := range c.labelVecs {
		logits[i] = logitsScale * embeddings.Cosine(imageVec, lv)
	}

	best := topK(softmax(logits), topLabels)
	picked := make([]string, len(best))
	for i, idx := range best {
		picked[i] = c.labels[idx]
	}
	return strings.Join(picked, ", "), nil
}

func (c *LabelCaptioner) Close() error {
	return c.encoder.Close()
}

func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, l)
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// topK returns the indices of the k largest values, highest first. Ties keep
// vocabulary order.
func topK(values []float64, k int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] > values[idx[b]]
	})
	return idx[:min(k, len(idx))]
}
