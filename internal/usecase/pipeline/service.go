// Package pipeline turns image bytes into normalized narcotic feature vectors.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/domain/instance"
	"github.com/kailas-cloud/evidex/internal/domain/route"
	"github.com/kailas-cloud/evidex/internal/domain/similarity"
	"github.com/kailas-cloud/evidex/internal/domain/vector"
	"github.com/kailas-cloud/evidex/internal/imaging"
	"github.com/kailas-cloud/evidex/internal/metrics"
)

// Options controls one vectorization.
type Options struct {
	SegmentFirst bool // isolate the most confident drug instance before extraction
	Normalize    bool // L2-normalize after resizing
	TargetDim    int  // 0 means the configured default
}

// Segmentation describes what the optional segmentation step did.
type Segmentation struct {
	Applied    bool    `json:"applied"`
	Found      bool    `json:"found"`
	Instances  int     `json:"instances"`
	ClassLabel string  `json:"class_label,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Box        []int   `json:"box,omitempty"` // x1, y1, x2, y2
}

// Result is a vectorized image.
type Result struct {
	Vector       []float32
	RawDim       int
	Segmentation Segmentation
}

// Service runs decode → segment → compose → extract → normalize.
type Service struct {
	models ModelSource
	router *route.Router
	cfg    domain.PipelineConfig
	logger *zap.Logger
}

// New creates a pipeline service.
func New(m ModelSource, router *route.Router, cfg domain.PipelineConfig, logger *zap.Logger) *Service {
	if cfg.TargetDim <= 0 {
		cfg.TargetDim = vector.DefaultTargetDim
	}
	return &Service{models: m, router: router, cfg: cfg, logger: logger}
}

// Config returns the pipeline settings.
func (s *Service) Config() domain.PipelineConfig { return s.cfg }

// DefaultOptions returns the options stored references were built with.
func (s *Service) DefaultOptions() Options {
	return Options{SegmentFirst: true, Normalize: s.cfg.L2, TargetDim: s.cfg.TargetDim}
}

// Decode parses image bytes. Undecodable input is domain.ErrInvalidImageInput.
func (s *Service) Decode(data []byte) (image.Image, error) {
	start := time.Now()
	img, format, err := imaging.Decode(data, s.cfg.MaxPixels)
	metrics.ObserveStage("decode", "", start, err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Image decoded",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)
	return img, nil
}

// Vectorize decodes data and vectorizes it.
func (s *Service) Vectorize(ctx context.Context, data []byte, opts Options) (Result, error) {
	img, err := s.Decode(data)
	if err != nil {
		return Result{}, err
	}
	return s.VectorizeImage(ctx, img, opts)
}

// VectorizeImage vectorizes a decoded image. With SegmentFirst the most confident drug
// instance is composed onto white; when none is found the full image is used.
func (s *Service) VectorizeImage(ctx context.Context, img image.Image, opts Options) (Result, error) {
	target := img
	seg := Segmentation{Applied: opts.SegmentFirst}

	if opts.SegmentFirst {
		dets, err := s.Segment(ctx, img)
		if err != nil {
			return Result{}, err
		}
		seg.Instances = len(dets)
		if d, ok := s.pickDrug(dets); ok {
			target = imaging.Compose(img, d.Mask)
			seg.Found = true
			seg.ClassLabel = d.ClassLabel
			seg.Confidence = d.Confidence
			seg.Box = []int{d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y}
		} else {
			s.logger.Debug("No drug instance found, using full image", zap.Int("instances", len(dets)))
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("vectorize: %w", err)
	}

	vec, raw, err := s.Embed(ctx, target, opts)
	if err != nil {
		return Result{}, err
	}
	return Result{Vector: vec, RawDim: raw, Segmentation: seg}, nil
}

// Segment runs the segmentation model. No detections is an empty slice.
func (s *Service) Segment(ctx context.Context, img image.Image) ([]instance.Detected, error) {
	seg, err := s.models.Segmenter()
	if err != nil {
		metrics.InferenceErrorsTotal.WithLabelValues("segment", metrics.ErrorType(err)).Inc()
		return nil, fmt.Errorf("segment: %w", err)
	}

	start := time.Now()
	dets, err := seg.Segment(ctx, img)
	metrics.ObserveStage("segment", "segmentation", start, err)
	if err != nil {
		s.logger.Error("Segmentation failed", zap.Error(err))
		return nil, fmt.Errorf("segment: %w", err)
	}
	if dets == nil {
		dets = []instance.Detected{}
	}
	return dets, nil
}

// Embed extracts and normalizes features of an already composed image.
// It returns the normalized vector and the raw backbone length.
func (s *Service) Embed(ctx context.Context, img image.Image, opts Options) ([]float32, int, error) {
	x, err := s.models.Extractor()
	if err != nil {
		metrics.InferenceErrorsTotal.WithLabelValues("extract", metrics.ErrorType(err)).Inc()
		return nil, 0, fmt.Errorf("extract: %w", err)
	}

	start := time.Now()
	raw, err := x.Extract(ctx, img)
	metrics.ObserveStage("extract", "narcotic", start, err)
	if err != nil {
		s.logger.Error("Feature extraction failed", zap.Error(err))
		return nil, 0, fmt.Errorf("extract: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("embed: %w", err)
	}

	dim := opts.TargetDim
	if dim == 0 {
		dim = s.cfg.TargetDim
	}
	start = time.Now()
	vec, err := vector.Normalize(raw, vector.Options{TargetDim: dim, L2: opts.Normalize})
	metrics.ObserveStage("normalize", "", start, err)
	if err != nil {
		s.logger.Warn("Vector normalization failed", zap.Int("raw_dim", len(raw)), zap.Error(err))
		return nil, 0, fmt.Errorf("normalize: %w", err)
	}
	return vec, len(raw), nil
}

// Similarity vectorizes both images the same way and returns their cosine similarity.
func (s *Service) Similarity(ctx context.Context, a, b []byte, normalize bool) (float64, error) {
	opts := s.DefaultOptions()
	opts.Normalize = normalize

	ra, err := s.Vectorize(ctx, a, opts)
	if err != nil {
		return 0, fmt.Errorf("first image: %w", err)
	}
	rb, err := s.Vectorize(ctx, b, opts)
	if err != nil {
		return 0, fmt.Errorf("second image: %w", err)
	}
	return similarity.Cosine(ra.Vector, rb.Vector)
}

// pickDrug returns the most confident instance routed to the drug pipeline.
func (s *Service) pickDrug(dets []instance.Detected) (instance.Detected, bool) {
	var best instance.Detected
	found := false
	for _, d := range dets {
		if s.router.Route(d.ClassLabel).Pipeline() != route.PipelineDrug {
			continue
		}
		// An empty mask composes to a blank canvas.
		if d.Mask.Area() == 0 {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best, found = d, true
		}
	}
	return best, found
}
