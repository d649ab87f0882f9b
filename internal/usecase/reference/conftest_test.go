package reference

import (
	"context"

	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	"github.com/kailas-cloud/evidex/internal/domain/similarity"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// --- Mock Repository ---

type mockRepo struct {
	putFn    func(ctx context.Context, ref *domref.Reference) (bool, error)
	getFn    func(ctx context.Context, id string, withVector bool) (domref.Reference, error)
	deleteFn func(ctx context.Context, id string) error
	countFn  func(ctx context.Context, category string) (int, error)
	searchFn func(ctx context.Context, q []float32, topK int, threshold float64, category string) ([]similarity.Result, error)
}

func (m *mockRepo) Put(ctx context.Context, ref *domref.Reference) (bool, error) {
	if m.putFn != nil {
		return m.putFn(ctx, ref)
	}
	return true, nil
}

func (m *mockRepo) Get(ctx context.Context, id string, withVector bool) (domref.Reference, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id, withVector)
	}
	return domref.Reconstruct(id, domref.Metadata{}, nil, 0), nil
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockRepo) Count(ctx context.Context, category string) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, category)
	}
	return 0, nil
}

func (m *mockRepo) Search(
	ctx context.Context, q []float32, topK int, threshold float64, category string,
) ([]similarity.Result, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q, topK, threshold, category)
	}
	return []similarity.Result{}, nil
}

// --- Mock Vectorizer ---

type mockVectorizer struct {
	vector []float32
	err    error
	opts   []pipeline.Options
}

func (m *mockVectorizer) Vectorize(_ context.Context, _ []byte, opts pipeline.Options) (pipeline.Result, error) {
	m.opts = append(m.opts, opts)
	if m.err != nil {
		return pipeline.Result{}, m.err
	}
	return pipeline.Result{
		Vector:       m.vector,
		RawDim:       len(m.vector),
		Segmentation: pipeline.Segmentation{Applied: true, Found: true, Instances: 1, ClassLabel: "Drug"},
	}, nil
}
