package analyze

import (
	"context"
	"image"

	"github.com/kailas-cloud/evidex/internal/domain/instance"
	"github.com/kailas-cloud/evidex/internal/usecase/models"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// Pipeline is the shared segmentation and embedding path.
type Pipeline interface {
	Decode(data []byte) (image.Image, error)
	Segment(ctx context.Context, img image.Image) ([]instance.Detected, error)
	Embed(ctx context.Context, img image.Image, opts pipeline.Options) ([]float32, int, error)
	DefaultOptions() pipeline.Options
}

// Classifiers hands out the firearm classifiers.
type Classifiers interface {
	BrandClassifier() (models.Classifier, error)
	BrandModel(brand string) (models.Classifier, error)
}
