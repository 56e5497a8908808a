package search

import "github.com/bdougie/framesearch/internal/storage"

// NormalizeDistance maps a cosine distance to a similarity in [0,1]:
// 1 - min(d, 2)/2. Negative distances are treated as 0.
func NormalizeDistance(d float64) float64 {
	d = min(max(d, 0), 2)
	return 1 - d/2
}

// Similarity converts a hit's raw score into a similarity in [0,1]. Backends
// that already report a similarity pass through (clamped); distances are
// normalized.
func Similarity(h storage.Hit) float64 {
	if h.Kind == storage.Similarity {
		return min(max(h.Score, 0), 1)
	}
	return NormalizeDistance(h.Score)
}
