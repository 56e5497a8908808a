// Package onnxrt owns the process-wide ONNX Runtime environment shared by the
// text embedder and the CLIP encoders.
package onnxrt

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	mu   sync.Mutex
	refs int
)

// Acquire initializes the environment on first use. Every successful Acquire
// must be paired with a Release.
func Acquire(libPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	refs++
	return nil
}

// Release destroys the environment once the last holder lets go.
func Release() {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		return
	}
	refs--
	if refs == 0 {
		ort.DestroyEnvironment()
	}
}

// NewSessionOptions returns options with full graph optimization and every
// available core, the way both model families are run.
func NewSessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to set graph optimization: %w", err)
	}
	// 0 = use all available
	if err := opts.SetIntraOpNumThreads(0); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to set thread count: %w", err)
	}
	return opts, nil
}
