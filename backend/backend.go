// Package backend defines the capability seam between the segmentation
// engine and the concrete model backends, plus the startup selector that
// commits to one of them for the process lifetime.
package backend

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"

	"github.com/promptseg/segmentd/raster"
)

// Capabilities describes what a backend supports. It is determined once
// during initialization and immutable afterward.
type Capabilities struct {
	// MultimaskOutput means Predict can return several candidate masks of
	// differing granularity when asked.
	MultimaskOutput bool
	// TextPrompts means the backend also implements TextPrompter.
	TextPrompts bool
	// Device is the compute device the backend runs on, e.g. "cuda", "cpu".
	Device string
}

// EmbeddingState is the opaque precomputed representation of one image.
// It is owned by the embedding cache and must be Released when superseded.
type EmbeddingState interface {
	Release()
}

// Backend wraps one concrete segmentation model. Both backend families in
// use (predictor style, where the embedding lives server side, and state
// style, where every predict call receives an explicit state handle) sit
// behind this same interface.
type Backend interface {
	Name() string
	Capabilities() Capabilities

	// ComputeEmbedding runs the expensive per-image feature extraction.
	ComputeEmbedding(ctx context.Context, img image.Image) (EmbeddingState, error)

	// Predict produces candidate masks for the given point prompts. Points
	// are (x, y) pixel coordinates; labels are 1 for include, 0 for
	// exclude, positives first. When multimask is false exactly one mask
	// is returned.
	Predict(
		ctx context.Context,
		state EmbeddingState,
		points [][2]float64,
		labels []int,
		multimask bool,
	) ([]*raster.Mask, []float64, error)

	Close(ctx context.Context) error
}

// TextPrompter is implemented by backends whose Capabilities report
// TextPrompts.
type TextPrompter interface {
	PredictText(
		ctx context.Context,
		state EmbeddingState,
		prompt string,
	) ([]*raster.Mask, []float64, error)
}

// UnavailableError means a candidate backend could not initialize (missing
// checkpoint, unreachable server, device missing). The selector absorbs it
// and advances to the next candidate; it is never surfaced to a client.
type UnavailableError struct {
	Backend string
	Reason  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %q unavailable: %v", e.Backend, e.Reason)
}

// Unwrap returns the underlying reason.
func (e *UnavailableError) Unwrap() error { return e.Reason }

// NewUnavailableError wraps err as an initialization failure of the named
// backend.
func NewUnavailableError(name string, err error) error {
	return &UnavailableError{Backend: name, Reason: err}
}

// IsUnavailable reports whether err marks a backend that failed to
// initialize.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
