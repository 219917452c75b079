package segmentation

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoPrompt is returned when a request supplies no points at all. Both
// the learned and the fallback path reject such requests identically.
var ErrNoPrompt = errors.New("at least one prompt point is required")

// ErrTextUnsupported is returned by SegmentByText when the active backend
// does not offer text-prompted segmentation, or when no backend is active.
var ErrTextUnsupported = errors.New("active backend does not support text prompts")

// MalformedImageError means the request image could not be decoded or
// converted. No cache or backend state is mutated.
type MalformedImageError struct {
	Cause error
}

func (e *MalformedImageError) Error() string {
	return fmt.Sprintf("malformed image: %v", e.Cause)
}

// Unwrap returns the decode failure.
func (e *MalformedImageError) Unwrap() error { return e.Cause }

// IsMalformedImage reports whether err stems from an undecodable image.
func IsMalformedImage(err error) bool {
	var me *MalformedImageError
	return errors.As(err, &me)
}

// InferenceError means the backend's predict call failed internally. The
// cached embedding is left untouched since it may still be valid.
type InferenceError struct {
	Backend string
	Cause   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on backend %q: %v", e.Backend, e.Cause)
}

// Unwrap returns the backend failure.
func (e *InferenceError) Unwrap() error { return e.Cause }

// IsInferenceFailure reports whether err came out of a backend predict
// call.
func IsInferenceFailure(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}
