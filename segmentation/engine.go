package segmentation

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"github.com/promptseg/segmentd/backend"
	"github.com/promptseg/segmentd/raster"
)

// Result is what a segmentation request returns: masks sorted by
// descending confidence (stable, ties keep backend emission order) with
// their scores, and whether the geometry-only fallback produced them.
type Result struct {
	Masks    []*raster.Mask
	Scores   []float64
	Degraded bool
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Requests    int64
	Degraded    int64
	CacheHits   int64
	CacheMisses int64
}

// Engine routes prompt requests through the active backend, or through the
// fallback synthesizer when the selector committed to none. It owns the
// embedding cache and is constructed once at startup.
//
// The engine serializes learned-path requests: the cache is a single
// shared slot, so a request must observe the embedding of its own image
// from Ensure through Predict. Concurrent clients working on different
// images are therefore safe but take turns; a per-session cache would be
// the next step if that ever becomes the workload.
type Engine struct {
	backend backend.Backend // nil when no learned backend is available
	cache   *EmbeddingCache
	logger  golog.Logger

	reqMu sync.Mutex

	requests atomic.Int64
	degraded atomic.Int64
}

// NewEngine returns an engine dispatching to b, which may be nil for
// degraded (fallback-only) operation.
func NewEngine(b backend.Backend, logger golog.Logger) *Engine {
	e := &Engine{backend: b, logger: logger}
	if b != nil {
		e.cache = NewEmbeddingCache(b)
	}
	return e
}

// Active reports whether a learned backend is available.
func (e *Engine) Active() bool { return e.backend != nil }

// Capabilities returns the active backend's capability set; the zero value
// when degraded.
func (e *Engine) Capabilities() backend.Capabilities {
	if e.backend == nil {
		return backend.Capabilities{}
	}
	return e.backend.Capabilities()
}

// BackendName returns the active backend's name, or "" when degraded.
func (e *Engine) BackendName() string {
	if e.backend == nil {
		return ""
	}
	return e.backend.Name()
}

// SetImage precomputes (or reuses) the embedding for img so later Segment
// calls against the same image are cheap. In degraded mode it is a no-op
// beyond reporting the fingerprint.
func (e *Engine) SetImage(ctx context.Context, img image.Image) (string, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::Engine::SetImage")
	defer span.End()

	fingerprint := raster.Fingerprint(img)
	if e.backend == nil {
		return fingerprint, nil
	}
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if _, err := e.cache.Ensure(ctx, img, fingerprint); err != nil {
		return "", err
	}
	return fingerprint, nil
}

// Segment turns a prompt set into ranked masks. At least one point is
// required; an empty prompt set fails with ErrNoPrompt before any state is
// touched, on both the learned and the fallback path.
func (e *Engine) Segment(
	ctx context.Context,
	img image.Image,
	positive, negative []Point,
	multimask bool,
) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::Engine::Segment")
	defer span.End()
	e.requests.Inc()

	points, labels, err := combinePrompts(positive, negative)
	if err != nil {
		return Result{}, err
	}

	bounds := img.Bounds()
	if e.backend == nil {
		e.degraded.Inc()
		mask, score, err := SynthesizeFallbackMask(bounds.Dx(), bounds.Dy(), positive, negative)
		if err != nil {
			return Result{}, err
		}
		return Result{Masks: []*raster.Mask{mask}, Scores: []float64{score}, Degraded: true}, nil
	}

	e.reqMu.Lock()
	defer e.reqMu.Unlock()

	state, err := e.cache.Ensure(ctx, img, raster.Fingerprint(img))
	if err != nil {
		return Result{}, err
	}

	masks, scores, err := e.backend.Predict(ctx, state, points, labels, multimask)
	if err != nil {
		return Result{}, &InferenceError{Backend: e.backend.Name(), Cause: err}
	}
	masks, scores = sortByScore(masks, scores)
	return Result{Masks: masks, Scores: scores}, nil
}

// SegmentByText runs text-prompted segmentation on backends that support
// it, keeping only masks scoring at or above threshold.
func (e *Engine) SegmentByText(
	ctx context.Context,
	img image.Image,
	prompt string,
	threshold float64,
) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::Engine::SegmentByText")
	defer span.End()
	e.requests.Inc()

	if e.backend == nil || !e.backend.Capabilities().TextPrompts {
		return Result{}, ErrTextUnsupported
	}
	texter, ok := e.backend.(backend.TextPrompter)
	if !ok {
		return Result{}, ErrTextUnsupported
	}

	e.reqMu.Lock()
	defer e.reqMu.Unlock()

	state, err := e.cache.Ensure(ctx, img, raster.Fingerprint(img))
	if err != nil {
		return Result{}, err
	}
	masks, scores, err := texter.PredictText(ctx, state, prompt)
	if err != nil {
		return Result{}, &InferenceError{Backend: e.backend.Name(), Cause: err}
	}

	kept := make([]*raster.Mask, 0, len(masks))
	keptScores := make([]float64, 0, len(scores))
	for i, s := range scores {
		if s >= threshold {
			kept = append(kept, masks[i])
			keptScores = append(keptScores, s)
		}
	}
	kept, keptScores = sortByScore(kept, keptScores)
	return Result{Masks: kept, Scores: keptScores}, nil
}

// InvalidateCache drops any resident embedding.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.Invalidate()
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Requests: e.requests.Load(),
		Degraded: e.degraded.Load(),
	}
	if e.cache != nil {
		s.CacheHits, s.CacheMisses = e.cache.Stats()
	}
	return s
}

// Close releases the backend and any cached embedding.
func (e *Engine) Close(ctx context.Context) error {
	e.InvalidateCache()
	if e.backend == nil {
		return nil
	}
	return e.backend.Close(ctx)
}

// sortByScore orders mask/score pairs by descending score. The sort is
// stable: ties keep the backend's emission order.
func sortByScore(masks []*raster.Mask, scores []float64) ([]*raster.Mask, []float64) {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	outMasks := make([]*raster.Mask, len(masks))
	outScores := make([]float64, len(scores))
	for i, j := range idx {
		outMasks[i] = masks[j]
		outScores[i] = scores[j]
	}
	return outMasks, outScores
}
