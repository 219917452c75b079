package segmentation

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/promptseg/segmentd/backend"
	"github.com/promptseg/segmentd/raster"
)

type mockState struct {
	released bool
}

func (s *mockState) Release() { s.released = true }

// mockBackend counts embedding computations and delegates predictions to a
// configurable function.
type mockBackend struct {
	caps        backend.Capabilities
	embedCalls  int
	embedErr    error
	lastState   *mockState
	predictFunc func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error)
	textFunc    func(prompt string) ([]*raster.Mask, []float64, error)
}

func (m *mockBackend) Name() string                       { return "mock" }
func (m *mockBackend) Capabilities() backend.Capabilities { return m.caps }

func (m *mockBackend) ComputeEmbedding(ctx context.Context, img image.Image) (backend.EmbeddingState, error) {
	m.embedCalls++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	m.lastState = &mockState{}
	return m.lastState, nil
}

func (m *mockBackend) Predict(
	ctx context.Context,
	state backend.EmbeddingState,
	points [][2]float64,
	labels []int,
	multimask bool,
) ([]*raster.Mask, []float64, error) {
	if m.predictFunc == nil {
		return nil, nil, errors.New("no predictFunc configured")
	}
	return m.predictFunc(points, labels, multimask)
}

func (m *mockBackend) PredictText(
	ctx context.Context,
	state backend.EmbeddingState,
	prompt string,
) ([]*raster.Mask, []float64, error) {
	if m.textFunc == nil {
		return nil, nil, errors.New("no textFunc configured")
	}
	return m.textFunc(prompt)
}

func (m *mockBackend) Close(ctx context.Context) error { return nil }

func fullMask(width, height int) *raster.Mask {
	m := raster.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.Set(x, y, raster.Included)
		}
	}
	return m
}

func maskWithArea(width, height, area int) *raster.Mask {
	m := raster.NewMask(width, height)
	for i := 0; i < area; i++ {
		m.Set(i%width, i/width, raster.Included)
	}
	return m
}

func testImage(width, height int) image.Image {
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}
