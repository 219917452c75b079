// Package localseg is a CPU-only, state-family backend that needs no
// learned checkpoint: the embedding is a downsampled color+position
// feature grid and prediction grows a mask out of the cells most similar
// to the positive seeds. Quality sits well below a real promptable model,
// but well above the pure-geometry fallback, which is exactly its job in
// the selector order.
package localseg

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gorgonia.org/tensor"

	"github.com/promptseg/segmentd/backend"
	"github.com/promptseg/segmentd/raster"
)

const (
	defaultGridSize = 64
	featuresPerCell = 5 // r, g, b, x, y

	// similarity cutoffs: the middle one serves single-mask requests, the
	// spread gives the three granularities of a multimask request.
	looseThreshold  = 0.35
	midThreshold    = 0.50
	tightThreshold  = 0.65
	negativePenalty = 0.85
)

// Config tunes the feature grid.
type Config struct {
	// GridSize is the feature grid's long side; 0 means the default.
	GridSize int `json:"grid_size,omitempty"`
	// CalibrationPath optionally points at a JSON file with feature
	// weights. A configured but unreadable path makes the backend
	// unavailable so the selector can move on.
	CalibrationPath string `json:"calibration_path,omitempty"`
}

// Calibration holds the feature weighting. The defaults weight color
// similarity over spatial proximity.
type Calibration struct {
	ColorWeight   float64 `json:"color_weight"`
	SpatialWeight float64 `json:"spatial_weight"`
	Sharpness     float64 `json:"sharpness"`
}

func defaultCalibration() Calibration {
	return Calibration{ColorWeight: 0.75, SpatialWeight: 0.25, Sharpness: 6.0}
}

// Backend implements backend.Backend on the host CPU.
type Backend struct {
	gridSize    int
	calibration Calibration
	logger      golog.Logger
}

// state is one image's feature grid.
type state struct {
	features *tensor.Dense // shape (gridH, gridW, featuresPerCell), float32
	gridW    int
	gridH    int
	width    int
	height   int
}

// Release drops the feature tensor.
func (s *state) Release() { s.features = nil }

// New builds the backend, loading calibration if configured.
func New(ctx context.Context, conf *Config, logger golog.Logger) (*Backend, error) {
	gridSize := conf.GridSize
	if gridSize <= 0 {
		gridSize = defaultGridSize
	}
	calibration := defaultCalibration()
	if conf.CalibrationPath != "" {
		data, err := os.ReadFile(conf.CalibrationPath)
		if err != nil {
			return nil, backend.NewUnavailableError("localseg",
				errors.Wrapf(err, "cannot read calibration at %s", conf.CalibrationPath))
		}
		if err := json.Unmarshal(data, &calibration); err != nil {
			return nil, backend.NewUnavailableError("localseg",
				errors.Wrap(err, "cannot parse calibration"))
		}
	}
	return &Backend{gridSize: gridSize, calibration: calibration, logger: logger}, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "localseg" }

// Capabilities implements backend.Backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{MultimaskOutput: true, Device: "cpu"}
}

// ComputeEmbedding builds the feature grid: the image is downsampled and
// every cell gets its normalized color plus its normalized position,
// weighted per calibration.
func (b *Backend) ComputeEmbedding(ctx context.Context, img image.Image) (backend.EmbeddingState, error) {
	_, span := trace.StartSpan(ctx, "localseg::Backend::ComputeEmbedding")
	defer span.End()

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	gridW, gridH := b.gridSize, b.gridSize
	if width > height {
		gridH = maxInt(1, b.gridSize*height/width)
	} else {
		gridW = maxInt(1, b.gridSize*width/height)
	}
	small := imaging.Resize(img, gridW, gridH, imaging.Lanczos)

	colorW := float32(b.calibration.ColorWeight)
	spatialW := float32(b.calibration.SpatialWeight)
	data := make([]float32, gridW*gridH*featuresPerCell)
	for y := 0; y < gridH; y++ {
		for x := 0; x < gridW; x++ {
			c := small.NRGBAAt(x, y)
			at := (y*gridW + x) * featuresPerCell
			data[at+0] = colorW * float32(c.R) / 255
			data[at+1] = colorW * float32(c.G) / 255
			data[at+2] = colorW * float32(c.B) / 255
			data[at+3] = spatialW * float32(x) / float32(gridW)
			data[at+4] = spatialW * float32(y) / float32(gridH)
		}
	}
	features := tensor.New(
		tensor.WithShape(gridH, gridW, featuresPerCell),
		tensor.WithBacking(data),
	)
	return &state{
		features: features,
		gridW:    gridW,
		gridH:    gridH,
		width:    width,
		height:   height,
	}, nil
}

// Predict implements backend.Backend. Each requested granularity yields
// one mask: cells whose similarity to the best positive seed clears the
// cutoff (after negative-seed penalties) are included, and the mask's
// score is the mean similarity of its cells.
func (b *Backend) Predict(
	ctx context.Context,
	st backend.EmbeddingState,
	points [][2]float64,
	labels []int,
	multimask bool,
) ([]*raster.Mask, []float64, error) {
	_, span := trace.StartSpan(ctx, "localseg::Backend::Predict")
	defer span.End()

	ls, ok := st.(*state)
	if !ok {
		return nil, nil, errors.Errorf("expected localseg embedding state but got %T", st)
	}
	if ls.features == nil {
		return nil, nil, errors.New("embedding state already released")
	}
	if len(points) != len(labels) {
		return nil, nil, errors.Errorf("%d points but %d labels", len(points), len(labels))
	}

	feats, ok := ls.features.Data().([]float32)
	if !ok {
		return nil, nil, errors.New("feature tensor has unexpected backing")
	}

	var posSeeds, negSeeds [][]float32
	for i, p := range points {
		cell := ls.seedFeatures(feats, p)
		if cell == nil {
			continue
		}
		if labels[i] == 1 {
			posSeeds = append(posSeeds, cell)
		} else {
			negSeeds = append(negSeeds, cell)
		}
	}
	if len(posSeeds) == 0 && len(negSeeds) == 0 {
		return nil, nil, errors.New("all prompt points fall outside the image")
	}

	similarity := ls.similarityMap(feats, posSeeds, negSeeds, b.calibration.Sharpness)

	thresholds := []float64{midThreshold}
	if multimask {
		thresholds = []float64{looseThreshold, midThreshold, tightThreshold}
	}
	masks := make([]*raster.Mask, 0, len(thresholds))
	scores := make([]float64, 0, len(thresholds))
	for _, cutoff := range thresholds {
		mask, score := ls.maskAtCutoff(similarity, cutoff)
		masks = append(masks, mask)
		scores = append(scores, score)
	}
	return masks, scores, nil
}

// Close implements backend.Backend.
func (b *Backend) Close(ctx context.Context) error { return nil }

// seedFeatures returns the feature vector of the grid cell under a prompt
// point, or nil when the point is out of bounds.
func (s *state) seedFeatures(feats []float32, p [2]float64) []float32 {
	if p[0] < 0 || p[1] < 0 || p[0] >= float64(s.width) || p[1] >= float64(s.height) {
		return nil
	}
	gx := int(p[0] * float64(s.gridW) / float64(s.width))
	gy := int(p[1] * float64(s.gridH) / float64(s.height))
	gx = minInt(gx, s.gridW-1)
	gy = minInt(gy, s.gridH-1)
	at := (gy*s.gridW + gx) * featuresPerCell
	return feats[at : at+featuresPerCell]
}

// similarityMap scores every cell in [0, 1]: closeness to the nearest
// positive seed, discounted by closeness to any negative seed.
func (s *state) similarityMap(feats []float32, posSeeds, negSeeds [][]float32, sharpness float64) []float64 {
	cells := s.gridW * s.gridH
	out := make([]float64, cells)
	for i := 0; i < cells; i++ {
		cell := feats[i*featuresPerCell : (i+1)*featuresPerCell]
		sim := 0.0
		if len(posSeeds) == 0 {
			// negatives only: everything is weakly similar, carving
			// still applies below.
			sim = midThreshold
		}
		for _, seed := range posSeeds {
			if v := math.Exp(-sharpness * dist2(cell, seed)); v > sim {
				sim = v
			}
		}
		for _, seed := range negSeeds {
			sim -= negativePenalty * math.Exp(-sharpness*dist2(cell, seed))
		}
		out[i] = math.Max(0, math.Min(1, sim))
	}
	return out
}

// maskAtCutoff upsamples the thresholded similarity map back to source
// resolution with nearest-neighbor lookups.
func (s *state) maskAtCutoff(similarity []float64, cutoff float64) (*raster.Mask, float64) {
	mask := raster.NewMask(s.width, s.height)
	total, count := 0.0, 0
	for _, sim := range similarity {
		if sim >= cutoff {
			total += sim
			count++
		}
	}
	if count == 0 {
		return mask, 0
	}
	for y := 0; y < s.height; y++ {
		gy := y * s.gridH / s.height
		for x := 0; x < s.width; x++ {
			gx := x * s.gridW / s.width
			if similarity[gy*s.gridW+gx] >= cutoff {
				mask.Set(x, y, raster.Included)
			}
		}
	}
	return mask, total / float64(count)
}

func dist2(a, b []float32) float64 {
	total := 0.0
	for i := range a {
		d := float64(a[i] - b[i])
		total += d * d
	}
	return total
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
