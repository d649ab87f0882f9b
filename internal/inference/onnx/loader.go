package onnx

import (
	"context"
	"fmt"
	"os"

	"github.com/kailas-cloud/evidex/internal/usecase/models"
)

var (
	_ models.Segmenter  = (*Segmenter)(nil)
	_ models.Classifier = (*Classifier)(nil)
	_ models.Extractor  = (*Extractor)(nil)
	_ models.Loader     = (*Loader)(nil)
)

// Loader opens model files for the registry.
type Loader struct {
	inputSize int // required square segmenter input, 0 = any
}

// NewLoader initializes the onnxruntime environment and returns a Loader.
func NewLoader(libraryPath string) (*Loader, error) {
	if err := InitEnvironment(libraryPath); err != nil {
		return nil, err
	}
	return &Loader{}, nil
}

// WithInputSize requires the segmentation model to take size x size input.
// Classifiers and extractors keep the size their sidecar declares.
func (l *Loader) WithInputSize(size int) *Loader {
	l.inputSize = size
	return l
}

// Load opens spec.Path with its sidecar metadata and wraps it in the handle for spec.Kind.
// A missing model file wraps fs.ErrNotExist.
func (l *Loader) Load(ctx context.Context, spec models.Spec) (models.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return nil, fmt.Errorf("model %s: %w", spec.Role, err)
	}
	meta, err := LoadMetadata(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", spec.Role, err)
	}
	if err := l.checkInputSize(spec.Kind, meta); err != nil {
		return nil, fmt.Errorf("model %s: %w", spec.Role, err)
	}

	s, err := openSession(spec.Path, meta)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", spec.Role, err)
	}

	var m models.Model
	switch spec.Kind {
	case models.KindSegmenter:
		m, err = newSegmenter(s)
	case models.KindClassifier:
		m, err = newClassifier(s)
	case models.KindExtractor:
		m = &Extractor{s: s}
	default:
		err = fmt.Errorf("unknown model kind %d", spec.Kind)
	}
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("model %s: %w", spec.Role, err)
	}
	return m, nil
}

func (l *Loader) checkInputSize(kind models.Kind, meta Metadata) error {
	if l.inputSize <= 0 || kind != models.KindSegmenter {
		return nil
	}
	if meta.ImageSize != l.inputSize {
		return fmt.Errorf("input size %d, pipeline requires %d", meta.ImageSize, l.inputSize)
	}
	return nil
}
