package web

// Wire types for the JSON API. Point lists use the [[x, y], ...] layout
// the interactive frontend sends.

// SetImageRequest precomputes the embedding for an image.
type SetImageRequest struct {
	Image string `json:"image"`
}

// SetImageResponse reports the accepted image size.
type SetImageResponse struct {
	Success   bool   `json:"success"`
	ImageSize []int  `json:"image_size,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SegmentRequest asks for masks from point prompts.
type SegmentRequest struct {
	Image           string       `json:"image"`
	PointsPositive  [][2]float64 `json:"points_positive"`
	PointsNegative  [][2]float64 `json:"points_negative,omitempty"`
	MultimaskOutput bool         `json:"multimask_output,omitempty"`
}

// SegmentTextRequest asks for masks from a text prompt.
type SegmentTextRequest struct {
	Image               string  `json:"image"`
	Prompt              string  `json:"prompt"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
}

// SegmentResponse carries ranked masks as base64 grayscale PNGs.
// Degraded means the geometry-only fallback produced them.
type SegmentResponse struct {
	Success  bool      `json:"success"`
	Masks    []string  `json:"masks,omitempty"`
	Scores   []float64 `json:"scores,omitempty"`
	Degraded bool      `json:"degraded"`
	Message  string    `json:"message,omitempty"`
}

// HealthResponse reports service and backend status.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}
