package models

import (
	"context"
	"image"

	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	"github.com/kailas-cloud/evidex/internal/domain/instance"
)

// Model is a loaded inference handle owned by the Registry.
type Model interface {
	// Warmup runs a dummy input through the model.
	Warmup(ctx context.Context) error
	Close() error
}

// Segmenter finds object instances with masks.
type Segmenter interface {
	Model
	Segment(ctx context.Context, img image.Image) ([]instance.Detected, error)
	// Classes returns the model's class id → label table.
	Classes() map[int]string
}

// Classifier scores an image against a fixed label set.
type Classifier interface {
	Model
	Classify(ctx context.Context, img image.Image, k int) ([]analysis.Label, error)
}

// Extractor produces a raw feature vector.
type Extractor interface {
	Model
	Extract(ctx context.Context, img image.Image) ([]float32, error)
}

// Loader opens model files.
type Loader interface {
	Load(ctx context.Context, spec Spec) (Model, error)
}
