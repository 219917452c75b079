package segmentation

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/promptseg/segmentd/backend"
	"github.com/promptseg/segmentd/raster"
)

func TestEngineRejectsEmptyPrompts(t *testing.T) {
	mock := &mockBackend{}
	learned := NewEngine(mock, golog.NewTestLogger(t))
	degraded := NewEngine(nil, golog.NewTestLogger(t))

	img := testImage(50, 50)
	for _, engine := range []*Engine{learned, degraded} {
		_, err := engine.Segment(context.Background(), img, nil, nil, false)
		test.That(t, err, test.ShouldBeError, ErrNoPrompt)
	}
	// prompt validation happens before any state is touched
	test.That(t, mock.embedCalls, test.ShouldEqual, 0)
}

func TestEngineSortsByDescendingScore(t *testing.T) {
	mock := &mockBackend{caps: backend.Capabilities{MultimaskOutput: true}}
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		return []*raster.Mask{
			maskWithArea(50, 50, 1),
			maskWithArea(50, 50, 2),
			maskWithArea(50, 50, 3),
		}, []float64{0.3, 0.9, 0.6}, nil
	}
	engine := NewEngine(mock, golog.NewTestLogger(t))

	result, err := engine.Segment(context.Background(), testImage(50, 50), []Point{{X: 10, Y: 10}}, nil, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Scores, test.ShouldResemble, []float64{0.9, 0.6, 0.3})
	// masks permuted identically to their scores
	test.That(t, result.Masks[0].Area(), test.ShouldEqual, 2)
	test.That(t, result.Masks[1].Area(), test.ShouldEqual, 3)
	test.That(t, result.Masks[2].Area(), test.ShouldEqual, 1)
}

func TestEngineStableSortOnTies(t *testing.T) {
	mock := &mockBackend{}
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		return []*raster.Mask{
			maskWithArea(10, 10, 1),
			maskWithArea(10, 10, 2),
			maskWithArea(10, 10, 3),
		}, []float64{0.5, 0.5, 0.5}, nil
	}
	engine := NewEngine(mock, golog.NewTestLogger(t))

	result, err := engine.Segment(context.Background(), testImage(10, 10), []Point{{X: 1, Y: 1}}, nil, true)
	test.That(t, err, test.ShouldBeNil)
	// emission order preserved
	test.That(t, result.Masks[0].Area(), test.ShouldEqual, 1)
	test.That(t, result.Masks[1].Area(), test.ShouldEqual, 2)
	test.That(t, result.Masks[2].Area(), test.ShouldEqual, 3)
}

func TestEngineEndToEnd(t *testing.T) {
	// 100x100 image, positive point (50,50), multimask off, backend
	// returns one full-coverage mask with score 1.0.
	mock := &mockBackend{}
	var gotPoints [][2]float64
	var gotLabels []int
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		gotPoints, gotLabels = points, labels
		test.That(t, multimask, test.ShouldBeFalse)
		return []*raster.Mask{fullMask(100, 100)}, []float64{1.0}, nil
	}
	engine := NewEngine(mock, golog.NewTestLogger(t))

	result, err := engine.Segment(context.Background(), testImage(100, 100), []Point{{X: 50, Y: 50}}, nil, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Degraded, test.ShouldBeFalse)
	test.That(t, result.Scores, test.ShouldResemble, []float64{1.0})
	test.That(t, len(result.Masks), test.ShouldEqual, 1)
	test.That(t, result.Masks[0].Area(), test.ShouldEqual, 100*100)
	test.That(t, gotPoints, test.ShouldResemble, [][2]float64{{50, 50}})
	test.That(t, gotLabels, test.ShouldResemble, []int{1})
}

func TestEngineCombinesPromptsPositivesFirst(t *testing.T) {
	mock := &mockBackend{}
	var gotLabels []int
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		gotLabels = labels
		return []*raster.Mask{maskWithArea(20, 20, 1)}, []float64{0.8}, nil
	}
	engine := NewEngine(mock, golog.NewTestLogger(t))

	_, err := engine.Segment(
		context.Background(),
		testImage(20, 20),
		[]Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		[]Point{{X: 3, Y: 3}},
		false,
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotLabels, test.ShouldResemble, []int{1, 1, 0})
}

func TestEngineDegradedPath(t *testing.T) {
	engine := NewEngine(nil, golog.NewTestLogger(t))
	test.That(t, engine.Active(), test.ShouldBeFalse)

	result, err := engine.Segment(context.Background(), testImage(200, 200), []Point{{X: 100, Y: 100}}, nil, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Degraded, test.ShouldBeTrue)
	test.That(t, result.Scores, test.ShouldResemble, []float64{0.5})
	test.That(t, len(result.Masks), test.ShouldEqual, 1)
	test.That(t, result.Masks[0].Included(100, 100), test.ShouldBeTrue)

	stats := engine.Stats()
	test.That(t, stats.Degraded, test.ShouldEqual, 1)
}

func TestEngineReusesEmbeddingAcrossRequests(t *testing.T) {
	mock := &mockBackend{}
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		return []*raster.Mask{maskWithArea(30, 30, 4)}, []float64{0.7}, nil
	}
	engine := NewEngine(mock, golog.NewTestLogger(t))
	img := testImage(30, 30)

	for i := 0; i < 3; i++ {
		_, err := engine.Segment(context.Background(), img, []Point{{X: 5, Y: 5}}, nil, false)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, mock.embedCalls, test.ShouldEqual, 1)

	stats := engine.Stats()
	test.That(t, stats.CacheHits, test.ShouldEqual, 2)
	test.That(t, stats.CacheMisses, test.ShouldEqual, 1)
}

func TestEnginePredictFailureIsInferenceError(t *testing.T) {
	mock := &mockBackend{}
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		return nil, nil, errors.New("model crashed")
	}
	engine := NewEngine(mock, golog.NewTestLogger(t))
	img := testImage(40, 40)

	_, err := engine.Segment(context.Background(), img, []Point{{X: 5, Y: 5}}, nil, false)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsInferenceFailure(err), test.ShouldBeTrue)

	// the embedding survives a failed predict
	mock.predictFunc = func(points [][2]float64, labels []int, multimask bool) ([]*raster.Mask, []float64, error) {
		return []*raster.Mask{maskWithArea(40, 40, 1)}, []float64{0.9}, nil
	}
	_, err = engine.Segment(context.Background(), img, []Point{{X: 5, Y: 5}}, nil, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mock.embedCalls, test.ShouldEqual, 1)
}

func TestEngineTextPrompts(t *testing.T) {
	// no backend at all
	degraded := NewEngine(nil, golog.NewTestLogger(t))
	_, err := degraded.SegmentByText(context.Background(), testImage(10, 10), "cat", 0.5)
	test.That(t, err, test.ShouldBeError, ErrTextUnsupported)

	// backend without the capability
	plain := &mockBackend{}
	_, err = NewEngine(plain, golog.NewTestLogger(t)).SegmentByText(context.Background(), testImage(10, 10), "cat", 0.5)
	test.That(t, err, test.ShouldBeError, ErrTextUnsupported)

	// capable backend: results filtered by threshold and sorted
	capable := &mockBackend{caps: backend.Capabilities{TextPrompts: true}}
	capable.textFunc = func(prompt string) ([]*raster.Mask, []float64, error) {
		test.That(t, prompt, test.ShouldEqual, "cat")
		return []*raster.Mask{
			maskWithArea(10, 10, 1),
			maskWithArea(10, 10, 2),
			maskWithArea(10, 10, 3),
		}, []float64{0.4, 0.9, 0.6}, nil
	}
	result, err := NewEngine(capable, golog.NewTestLogger(t)).SegmentByText(context.Background(), testImage(10, 10), "cat", 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Scores, test.ShouldResemble, []float64{0.9, 0.6})
	test.That(t, result.Masks[0].Area(), test.ShouldEqual, 2)
	test.That(t, result.Masks[1].Area(), test.ShouldEqual, 3)
}
