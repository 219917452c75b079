package backend

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// An Initializer is one backend candidate in the startup priority order.
// Init either returns a ready backend or an error; initialization may load
// large weight files or allocate accelerator memory, so it runs exactly
// once per process.
type Initializer struct {
	Name string
	Init func(ctx context.Context, logger golog.Logger) (Backend, error)
}

// Select tries each candidate in order and commits to the first that
// initializes. Every failure is absorbed and logged rather than propagated.
// When all candidates fail, Select returns nil along with the combined
// initialization errors; the caller serves geometry-only fallback masks for
// the rest of the process lifetime. A nil result is not itself an error.
func Select(ctx context.Context, candidates []Initializer, logger golog.Logger) (Backend, error) {
	var attemptErrs error
	for _, candidate := range candidates {
		b, err := candidate.Init(ctx, logger)
		if err != nil {
			logger.Infow("segmentation backend unavailable, trying next",
				"backend", candidate.Name, "error", err)
			attemptErrs = multierr.Append(attemptErrs, errors.Wrapf(err, "backend %q", candidate.Name))
			continue
		}
		caps := b.Capabilities()
		logger.Infow("committed to segmentation backend",
			"backend", candidate.Name,
			"device", caps.Device,
			"multimask", caps.MultimaskOutput,
			"text_prompts", caps.TextPrompts)
		return b, nil
	}
	logger.Warnw("no segmentation backend available; serving geometry-only fallback masks",
		"attempts", len(candidates))
	return nil, attemptErrs
}
