// Package analyze produces the per-image evidence report: firearm brand/model and narcotic vectors.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	"github.com/kailas-cloud/evidex/internal/domain/instance"
	"github.com/kailas-cloud/evidex/internal/domain/route"
	"github.com/kailas-cloud/evidex/internal/imaging"
	"github.com/kailas-cloud/evidex/internal/metrics"
	"github.com/kailas-cloud/evidex/internal/usecase/models"
)

const (
	defaultTopK        = 3
	defaultCropQuality = 90
)

// Service analyses images instance by instance.
type Service struct {
	pipe        Pipeline
	classifiers Classifiers
	router      *route.Router
	topK        int
	crops       bool
	cropQuality int
	logger      *zap.Logger
}

// New creates an analysis service.
func New(pipe Pipeline, classifiers Classifiers, router *route.Router, logger *zap.Logger) *Service {
	return &Service{
		pipe:        pipe,
		classifiers: classifiers,
		router:      router,
		topK:        defaultTopK,
		cropQuality: defaultCropQuality,
		logger:      logger,
	}
}

// WithCrops attaches a JPEG of every composed instance to the report.
func (s *Service) WithCrops(quality int) *Service {
	s.crops = true
	if quality > 0 && quality <= 100 {
		s.cropQuality = quality
	}
	return s
}

// Analyze decodes data, segments it and runs the routed pipeline for every instance.
// Instances are processed sequentially in detection order.
func (s *Service) Analyze(ctx context.Context, data []byte) (analysis.Report, error) {
	img, err := s.pipe.Decode(data)
	if err != nil {
		return analysis.Report{}, err
	}

	dets, err := s.pipe.Segment(ctx, img)
	if err != nil {
		return analysis.Report{}, err
	}

	start := time.Now()
	objects := make([]analysis.Object, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return analysis.Report{}, fmt.Errorf("analyze: %w", err)
		}
		obj, err := s.analyzeInstance(ctx, img, d)
		if err != nil {
			return analysis.Report{}, err
		}
		objects = append(objects, obj)
	}

	report := analysis.NewReport(objects)
	s.logger.Debug("Image analysed",
		zap.String("detection_type", string(report.DetectionType)),
		zap.Int("objects", len(objects)),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (s *Service) analyzeInstance(ctx context.Context, img image.Image, d instance.Detected) (analysis.Object, error) {
	decision := s.router.Route(d.ClassLabel)
	obj := analysis.Object{
		Index:      d.Index,
		Class:      d.ClassLabel,
		Confidence: d.Confidence,
		Pipeline:   decision.Pipeline(),
	}

	composed := imaging.Compose(img, d.Mask)
	if s.crops {
		crop, err := imaging.EncodeJPEG(composed, s.cropQuality)
		if err != nil {
			s.logger.Warn("Failed to encode crop", zap.Int("object_index", d.Index), zap.Error(err))
		}
		obj.Crop = crop
	}

	switch dec := decision.(type) {
	case route.Brand:
		f, err := s.classifyFirearm(ctx, composed)
		if err != nil {
			return analysis.Object{}, err
		}
		obj.Firearm = &f
	case route.Drug:
		n, note, err := s.embedDrug(ctx, composed)
		if err != nil {
			return analysis.Object{}, err
		}
		obj.Narcotic = &n
		obj.Note = note
	case route.None:
		obj.Note = dec.Note
	}
	return obj, nil
}

// classifyFirearm runs brand then per-brand model classification.
// Missing classifiers degrade to Unknown; only cancellation is an error.
func (s *Service) classifyFirearm(ctx context.Context, img image.Image) (analysis.Firearm, error) {
	f := analysis.Firearm{
		SelectedBrand: analysis.Unknown,
		BrandTop3:     []analysis.Label{},
		SelectedModel: analysis.Unknown,
		ModelTop3:     []analysis.Label{},
	}

	brandClf, err := s.classifiers.BrandClassifier()
	if err != nil {
		s.logger.Warn("Brand classifier unavailable", zap.Error(err))
		return f, nil
	}
	brands, err := s.classify(ctx, brandClf, "brand", img)
	if err != nil {
		return f, s.degrade("brand", err)
	}
	f.BrandTop3 = brands
	f.SelectedBrand = analysis.Selected(brands)
	if f.SelectedBrand == analysis.Unknown {
		return f, nil
	}

	modelClf, err := s.classifiers.BrandModel(f.SelectedBrand)
	if err != nil {
		s.logger.Debug("No model classifier for brand", zap.String("brand", f.SelectedBrand))
		return f, nil
	}
	role := string(models.BrandModelRole(f.SelectedBrand))
	modelLabels, err := s.classify(ctx, modelClf, role, img)
	if err != nil {
		return f, s.degrade(role, err)
	}
	f.ModelTop3 = modelLabels
	f.SelectedModel = analysis.Selected(modelLabels)
	return f, nil
}

func (s *Service) classify(ctx context.Context, c models.Classifier, role string, img image.Image) ([]analysis.Label, error) {
	start := time.Now()
	labels, err := c.Classify(ctx, img, s.topK)
	metrics.ObserveStage("classify", role, start, err)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", role, err)
	}
	if labels == nil {
		labels = []analysis.Label{}
	}
	return labels, nil
}

// degrade keeps the report going on classifier failure unless the request was canceled.
func (s *Service) degrade(role string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Warn("Classification failed", zap.String("role", role), zap.Error(err))
	return nil
}

// embedDrug vectorizes an already composed instance; no second segmentation pass.
func (s *Service) embedDrug(ctx context.Context, img image.Image) (analysis.Narcotic, string, error) {
	n := analysis.Narcotic{DrugType: analysis.Unknown}

	opts := s.pipe.DefaultOptions()
	opts.SegmentFirst = false
	vec, _, err := s.pipe.Embed(ctx, img, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return n, "", err
		}
		s.logger.Warn("Drug vector unavailable", zap.Error(err))
		if errors.Is(err, domain.ErrModelUnavailable) {
			return n, "narcotic model unavailable", nil
		}
		return n, "vector unavailable", nil
	}

	n.Vector = vec
	n.Dimensions = len(vec)
	return n, "", nil
}
