package segmentation

import (
	"math"

	"github.com/promptseg/segmentd/raster"
)

// Fallback disk radii as fractions of the short image side, and the fixed
// confidence assigned to a geometry-only mask (no learned signal exists to
// rank it against alternatives).
const (
	positiveRadiusScale = 0.15
	negativeRadiusScale = 0.10
	fallbackScore       = 0.5
)

// SynthesizeFallbackMask produces a geometry-only mask when no learned
// backend is available: every positive point contributes an included disk,
// then every negative point carves an excluded disk. Negative carving is
// applied after all positive disks, so at any given pixel an exclusion
// wins regardless of input order.
func SynthesizeFallbackMask(width, height int, positive, negative []Point) (*raster.Mask, float64, error) {
	if len(positive) == 0 && len(negative) == 0 {
		return nil, 0, ErrNoPrompt
	}
	short := math.Min(float64(width), float64(height))
	mask := raster.NewMask(width, height)
	for _, p := range positive {
		mask.FillDisk(p.X, p.Y, positiveRadiusScale*short, raster.Included)
	}
	for _, p := range negative {
		mask.FillDisk(p.X, p.Y, negativeRadiusScale*short, raster.Excluded)
	}
	return mask, fallbackScore, nil
}
