// Package segmentation turns point prompts into ranked binary masks,
// routing through whichever model backend the selector committed to at
// startup, or through the geometry-only fallback when none is available.
package segmentation

// Point is a 2-D prompt coordinate in source image pixels. Its polarity
// (include vs exclude) is carried by which list it is passed in.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// labels used on the backend seam, matching the usual promptable
// segmentation convention.
const (
	labelExclude = 0
	labelInclude = 1
)

// combinePrompts builds the combined point and label arrays the backends
// consume: positives first with label 1, then negatives with label 0.
// Order within each polarity is preserved for stable tie-breaking.
func combinePrompts(positive, negative []Point) ([][2]float64, []int, error) {
	if len(positive) == 0 && len(negative) == 0 {
		return nil, nil, ErrNoPrompt
	}
	points := make([][2]float64, 0, len(positive)+len(negative))
	labels := make([]int, 0, len(positive)+len(negative))
	for _, p := range positive {
		points = append(points, [2]float64{p.X, p.Y})
		labels = append(labels, labelInclude)
	}
	for _, p := range negative {
		points = append(points, [2]float64{p.X, p.Y})
		labels = append(labels, labelExclude)
	}
	return points, labels, nil
}
