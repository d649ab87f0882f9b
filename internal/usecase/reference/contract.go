package reference

import (
	"context"

	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	"github.com/kailas-cloud/evidex/internal/domain/similarity"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// Repository defines the storage contract for reference samples.
type Repository interface {
	Put(ctx context.Context, ref *domref.Reference) (created bool, err error)
	Get(ctx context.Context, id string, withVector bool) (domref.Reference, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, category string) (int, error)
	Search(ctx context.Context, query []float32, topK int, threshold float64, category string) ([]similarity.Result, error)
}

// Vectorizer turns image bytes into a normalized vector.
type Vectorizer interface {
	Vectorize(ctx context.Context, data []byte, opts pipeline.Options) (pipeline.Result, error)
}
