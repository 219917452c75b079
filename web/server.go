// Package web exposes the segmentation engine over a JSON HTTP API. The
// endpoints and wire shapes follow the interactive frontend's contract:
// /health, /set_image, /segment, /segment_with_text, plus /metrics.
package web

import (
	"context"
	"encoding/json"
	"image"
	"net"
	"net/http"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/promptseg/segmentd/raster"
	"github.com/promptseg/segmentd/segmentation"
)

// Options configures the server.
type Options struct {
	// BindAddress is the host:port to listen on.
	BindAddress string
	// Version is reported by /health.
	Version string
}

// Server serves the segmentation API for one engine.
type Server struct {
	engine  *segmentation.Engine
	options Options
	logger  golog.Logger

	httpServer *http.Server
}

// NewServer wires the engine into an HTTP server; call Serve to run it.
func NewServer(engine *segmentation.Engine, options Options, logger golog.Logger) *Server {
	srv := &Server{engine: engine, options: options, logger: logger}

	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/health"), srv.handleHealth)
	mux.HandleFunc(pat.Post("/set_image"), srv.handleSetImage)
	mux.HandleFunc(pat.Post("/segment"), srv.handleSegment)
	mux.HandleFunc(pat.Post("/segment_with_text"), srv.handleSegmentText)
	mux.Handle(pat.Get("/metrics"), promhttp.Handler())

	// the interactive frontend is served from another origin.
	handler := cors.AllowAll().Handler(requestLogger(logger, mux))

	srv.httpServer = &http.Server{
		Addr:              options.BindAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler exposes the fully wired HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.options.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", s.options.BindAddress)
	}
	s.logger.Infow("serving segmentation API", "address", listener.Addr().String())

	var serveErr error
	done := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(done)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	})

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)
	<-done
	return multierr.Combine(serveErr, shutdownErr, s.engine.Close(shutdownCtx))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	device := "none"
	if s.engine.Active() {
		device = s.engine.Capabilities().Device
	} else {
		status = "fallback"
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      status,
		Service:     "segmentd",
		Version:     s.options.Version,
		ModelLoaded: s.engine.Active(),
		Device:      device,
	})
}

func (s *Server) handleSetImage(w http.ResponseWriter, r *http.Request) {
	var req SetImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, SetImageResponse{Message: "invalid request body"})
		return
	}
	img, err := s.decodeImage(req.Image)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, SetImageResponse{Message: err.Error()})
		return
	}
	if _, err := s.engine.SetImage(r.Context(), img); err != nil {
		s.logger.Errorw("set_image failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, SetImageResponse{Message: err.Error()})
		return
	}
	bounds := img.Bounds()
	message := "image embeddings ready"
	if !s.engine.Active() {
		message = "no backend available, fallback mode"
	}
	s.writeJSON(w, http.StatusOK, SetImageResponse{
		Success:   true,
		ImageSize: []int{bounds.Dx(), bounds.Dy()},
		Message:   message,
	})
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, SegmentResponse{Message: "invalid request body"})
		return
	}
	img, err := s.decodeImage(req.Image)
	if err != nil {
		segmentRequests.WithLabelValues("error").Inc()
		s.writeJSON(w, http.StatusBadRequest, SegmentResponse{Message: err.Error()})
		return
	}

	result, err := s.engine.Segment(
		r.Context(),
		img,
		toPoints(req.PointsPositive),
		toPoints(req.PointsNegative),
		req.MultimaskOutput,
	)
	segmentLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		segmentRequests.WithLabelValues("error").Inc()
		s.writeSegmentError(w, err)
		return
	}
	s.writeResult(w, result)
}

func (s *Server) handleSegmentText(w http.ResponseWriter, r *http.Request) {
	var req SegmentTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, SegmentResponse{Message: "invalid request body"})
		return
	}
	if req.Prompt == "" {
		s.writeJSON(w, http.StatusBadRequest, SegmentResponse{Message: "prompt is required"})
		return
	}
	img, err := s.decodeImage(req.Image)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, SegmentResponse{Message: err.Error()})
		return
	}
	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	result, err := s.engine.SegmentByText(r.Context(), img, req.Prompt, threshold)
	if err != nil {
		s.writeSegmentError(w, err)
		return
	}
	s.writeResult(w, result)
}

func (s *Server) writeResult(w http.ResponseWriter, result segmentation.Result) {
	masks := make([]string, 0, len(result.Masks))
	for _, mask := range result.Masks {
		payload, err := mask.EncodeBase64PNG()
		if err != nil {
			s.logger.Errorw("cannot encode mask", "error", err)
			s.writeJSON(w, http.StatusInternalServerError, SegmentResponse{Message: err.Error()})
			return
		}
		masks = append(masks, payload)
	}
	if result.Degraded {
		segmentRequests.WithLabelValues("degraded").Inc()
	} else {
		segmentRequests.WithLabelValues("ok").Inc()
	}
	s.writeJSON(w, http.StatusOK, SegmentResponse{
		Success:  true,
		Masks:    masks,
		Scores:   result.Scores,
		Degraded: result.Degraded,
	})
}

// writeSegmentError maps the engine taxonomy onto HTTP codes: invalid
// prompts and undecodable images are the client's fault, unsupported text
// prompts are 501, anything else is the backend crashing.
func (s *Server) writeSegmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, segmentation.ErrNoPrompt), segmentation.IsMalformedImage(err):
		s.writeJSON(w, http.StatusBadRequest, SegmentResponse{Message: err.Error()})
	case errors.Is(err, segmentation.ErrTextUnsupported):
		s.writeJSON(w, http.StatusNotImplemented, SegmentResponse{Message: err.Error()})
	default:
		s.logger.Errorw("segmentation failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, SegmentResponse{Message: err.Error()})
	}
}

func (s *Server) decodeImage(payload string) (image.Image, error) {
	if payload == "" {
		return nil, errors.New("image is required")
	}
	img, err := raster.DecodeBase64Image(payload)
	if err != nil {
		return nil, &segmentation.MalformedImageError{Cause: err}
	}
	return img, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debugw("cannot write response", "error", err)
	}
}

func toPoints(coords [][2]float64) []segmentation.Point {
	points := make([]segmentation.Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, segmentation.Point{X: c[0], Y: c[1]})
	}
	return points
}
