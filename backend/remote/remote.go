// Package remote adapts a remote promptable-segmentation inference server
// (a SAM-style model behind an HTTP API) to the backend interface. This is
// the predictor-family adapter: the heavy per-image state lives on the
// server, keyed by the image fingerprint; our embedding state is just the
// acknowledgment that the server has seen the image.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/promptseg/segmentd/backend"
	"github.com/promptseg/segmentd/raster"
)

const (
	defaultHealthTimeout  = 3 * time.Second
	defaultRequestTimeout = 60 * time.Second
)

// Config holds the connection parameters for the inference server.
type Config struct {
	// URL is the base URL of the inference server, e.g. "http://gpu-box:8001".
	URL string `json:"url"`
	// HealthTimeoutSec bounds the startup reachability probe.
	HealthTimeoutSec float64 `json:"health_timeout_sec,omitempty"`
	// RequestTimeoutSec bounds embedding and predict calls.
	RequestTimeoutSec float64 `json:"request_timeout_sec,omitempty"`
}

// Validate checks the config for required fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return errors.Wrap(err, "invalid url")
	}
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

type setImageRequest struct {
	Image       string `json:"image"`
	Fingerprint string `json:"fingerprint"`
}

type predictRequest struct {
	Fingerprint     string       `json:"fingerprint"`
	Points          [][2]float64 `json:"points"`
	Labels          []int        `json:"labels"`
	MultimaskOutput bool         `json:"multimask_output"`
}

type predictTextRequest struct {
	Fingerprint string `json:"fingerprint"`
	Prompt      string `json:"prompt"`
}

type apiResponse struct {
	Success bool      `json:"success"`
	Masks   []string  `json:"masks,omitempty"`
	Scores  []float64 `json:"scores,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Backend talks to one remote inference server.
type Backend struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	caps           backend.Capabilities
	logger         golog.Logger
}

// state is the server-side embedding acknowledgment.
type state struct {
	fingerprint string
	width       int
	height      int
}

// Release is a no-op: the server's slot is overwritten by the next
// set_image, mirroring our own single-slot cache.
func (s *state) Release() {}

// New probes the server and returns a ready backend, or an unavailable
// error for the selector to absorb.
func New(ctx context.Context, conf *Config, logger golog.Logger) (*Backend, error) {
	if err := conf.Validate(); err != nil {
		return nil, backend.NewUnavailableError("remote", err)
	}
	healthTimeout := defaultHealthTimeout
	if conf.HealthTimeoutSec > 0 {
		healthTimeout = time.Duration(conf.HealthTimeoutSec * float64(time.Second))
	}
	requestTimeout := defaultRequestTimeout
	if conf.RequestTimeoutSec > 0 {
		requestTimeout = time.Duration(conf.RequestTimeoutSec * float64(time.Second))
	}

	b := &Backend{
		baseURL:        conf.URL,
		client:         &http.Client{},
		requestTimeout: requestTimeout,
		logger:         logger,
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	var health healthResponse
	if err := b.getJSON(probeCtx, "/health", &health); err != nil {
		return nil, backend.NewUnavailableError("remote", err)
	}
	if !health.ModelLoaded {
		return nil, backend.NewUnavailableError("remote",
			fmt.Errorf("server reachable but no model loaded (status %q)", health.Status))
	}

	b.caps = backend.Capabilities{
		MultimaskOutput: true,
		TextPrompts:     true,
		Device:          health.Device,
	}
	logger.Infow("remote inference server ready", "url", conf.URL, "device", health.Device)
	return b, nil
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "remote" }

// Capabilities implements backend.Backend.
func (b *Backend) Capabilities() backend.Capabilities { return b.caps }

// ComputeEmbedding uploads the image so the server computes and holds its
// features; repeated prompts against the same fingerprint skip this.
func (b *Backend) ComputeEmbedding(ctx context.Context, img image.Image) (backend.EmbeddingState, error) {
	ctx, span := trace.StartSpan(ctx, "remote::Backend::ComputeEmbedding")
	defer span.End()

	payload, err := raster.EncodeBase64Image(img)
	if err != nil {
		return nil, err
	}
	fingerprint := raster.Fingerprint(img)
	var resp apiResponse
	if err := b.postJSON(ctx, "/set_image", setImageRequest{
		Image:       payload,
		Fingerprint: fingerprint,
	}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Errorf("server rejected image: %s", resp.Message)
	}
	bounds := img.Bounds()
	return &state{fingerprint: fingerprint, width: bounds.Dx(), height: bounds.Dy()}, nil
}

// Predict implements backend.Backend.
func (b *Backend) Predict(
	ctx context.Context,
	st backend.EmbeddingState,
	points [][2]float64,
	labels []int,
	multimask bool,
) ([]*raster.Mask, []float64, error) {
	ctx, span := trace.StartSpan(ctx, "remote::Backend::Predict")
	defer span.End()

	rs, ok := st.(*state)
	if !ok {
		return nil, nil, errors.Errorf("expected remote embedding state but got %T", st)
	}
	var resp apiResponse
	if err := b.postJSON(ctx, "/predict", predictRequest{
		Fingerprint:     rs.fingerprint,
		Points:          points,
		Labels:          labels,
		MultimaskOutput: multimask,
	}, &resp); err != nil {
		return nil, nil, err
	}
	return decodeMasks(&resp)
}

// PredictText implements backend.TextPrompter.
func (b *Backend) PredictText(
	ctx context.Context,
	st backend.EmbeddingState,
	prompt string,
) ([]*raster.Mask, []float64, error) {
	ctx, span := trace.StartSpan(ctx, "remote::Backend::PredictText")
	defer span.End()

	rs, ok := st.(*state)
	if !ok {
		return nil, nil, errors.Errorf("expected remote embedding state but got %T", st)
	}
	var resp apiResponse
	if err := b.postJSON(ctx, "/predict_text", predictTextRequest{
		Fingerprint: rs.fingerprint,
		Prompt:      prompt,
	}, &resp); err != nil {
		return nil, nil, err
	}
	return decodeMasks(&resp)
}

// Close implements backend.Backend.
func (b *Backend) Close(ctx context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}

func decodeMasks(resp *apiResponse) ([]*raster.Mask, []float64, error) {
	if !resp.Success {
		return nil, nil, errors.Errorf("prediction failed: %s", resp.Message)
	}
	if len(resp.Masks) != len(resp.Scores) {
		return nil, nil, errors.Errorf("server returned %d masks but %d scores",
			len(resp.Masks), len(resp.Scores))
	}
	masks := make([]*raster.Mask, 0, len(resp.Masks))
	for _, payload := range resp.Masks {
		mask, err := raster.DecodeBase64Mask(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "cannot decode mask from server")
		}
		masks = append(masks, mask)
	}
	return masks, resp.Scores, nil
}

func (b *Backend) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *Backend) postJSON(ctx context.Context, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *Backend) do(req *http.Request, out interface{}) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cannot reach inference server at %s", b.baseURL)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			b.logger.Debugw("error closing response body", "error", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("inference server returned %s for %s", resp.Status, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "cannot decode server response")
	}
	return nil
}
