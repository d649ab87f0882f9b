package chi

import (
	"context"

	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	healthuc "github.com/kailas-cloud/evidex/internal/usecase/health"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
	referenceuc "github.com/kailas-cloud/evidex/internal/usecase/reference"
)

// Analyzer produces the per-image evidence report.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (analysis.Report, error)
}

// Vectorizer converts image bytes into a vector.
type Vectorizer interface {
	Vectorize(ctx context.Context, data []byte, opts pipeline.Options) (pipeline.Result, error)
}

// Comparer scores two images against each other.
type Comparer interface {
	Similarity(ctx context.Context, a, b []byte, normalize bool) (float64, error)
}

// References manages the reference collection.
type References interface {
	Index(ctx context.Context, id string, meta domref.Metadata, data []byte) (domref.Reference, bool, error)
	Get(ctx context.Context, id string, withVector bool) (domref.Reference, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, data []byte, req referenceuc.SearchRequest) (referenceuc.SearchResponse, error)
}

// Health reports liveness, readiness and runs warmup.
type Health interface {
	Check(ctx context.Context) healthuc.Report
	Ready() healthuc.ReadyReport
	Status() healthuc.StatusReport
	Warmup(ctx context.Context) (healthuc.WarmupReport, error)
	ServiceReady() bool
}
