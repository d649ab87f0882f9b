// Package reference indexes narcotic reference images and searches them by image.
package reference

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/evidex/internal/domain"
	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	"github.com/kailas-cloud/evidex/internal/domain/similarity"
	"github.com/kailas-cloud/evidex/internal/metrics"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// SearchRequest holds search-by-image parameters. Zero values mean defaults.
type SearchRequest struct {
	TopK      int
	Threshold *float64
	Category  string
}

// SearchResponse is a ranked hit list plus the segmentation info of the query image.
type SearchResponse struct {
	Results      []similarity.Result
	Segmentation pipeline.Segmentation
}

// Service handles reference indexing and search.
type Service struct {
	repo      Repository
	vec       Vectorizer
	opts      pipeline.Options
	topK      int
	maxTopK   int
	threshold float64
	now       func() time.Time
}

// New creates a reference service. Vectors are produced with opts for both indexing and queries
// so stored and query vectors are always comparable.
func New(repo Repository, vec Vectorizer, opts pipeline.Options, cfg domain.PipelineConfig) *Service {
	s := &Service{
		repo:      repo,
		vec:       vec,
		opts:      opts,
		topK:      cfg.TopK,
		maxTopK:   cfg.MaxTopK,
		threshold: cfg.Threshold,
		now:       time.Now,
	}
	if s.topK <= 0 {
		s.topK = 5
	}
	if s.maxTopK < s.topK {
		s.maxTopK = s.topK
	}
	return s
}

// Index vectorizes data and stores it under id. An empty id gets a generated UUID.
// Returns the stored reference (without vector) and whether it was newly created.
func (s *Service) Index(
	ctx context.Context, id string, meta domref.Metadata, data []byte,
) (domref.Reference, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	res, err := s.vec.Vectorize(ctx, data, s.opts)
	if err != nil {
		return domref.Reference{}, false, fmt.Errorf("vectorize reference: %w", err)
	}

	ref, err := domref.New(id, meta, res.Vector, s.now())
	if err != nil {
		return domref.Reference{}, false, fmt.Errorf("%w: %w", domain.ErrInvalidParameter, err)
	}

	created, err := s.repo.Put(ctx, &ref)
	if err != nil {
		return domref.Reference{}, false, fmt.Errorf("store reference: %w", err)
	}
	return ref.WithoutVector(), created, nil
}

// Get returns a stored reference.
func (s *Service) Get(ctx context.Context, id string, withVector bool) (domref.Reference, error) {
	ref, err := s.repo.Get(ctx, id, withVector)
	if err != nil {
		return domref.Reference{}, fmt.Errorf("get reference: %w", err)
	}
	return ref, nil
}

// Delete removes a stored reference.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	return nil
}

// Count returns the number of references, optionally within one category.
func (s *Service) Count(ctx context.Context, category string) (int, error) {
	n, err := s.repo.Count(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return n, nil
}

// Search vectorizes data and ranks the stored references against it.
// No hit above the threshold is an empty list, not an error.
func (s *Service) Search(ctx context.Context, data []byte, req SearchRequest) (SearchResponse, error) {
	topK, threshold, err := s.resolve(req)
	if err != nil {
		return SearchResponse{}, err
	}

	res, err := s.vec.Vectorize(ctx, data, s.opts)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("vectorize query: %w", err)
	}

	results, err := s.repo.Search(ctx, res.Vector, topK, threshold, req.Category)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search references: %w", err)
	}
	metrics.SearchResults.Observe(float64(len(results)))

	return SearchResponse{Results: results, Segmentation: res.Segmentation}, nil
}

func (s *Service) resolve(req SearchRequest) (int, float64, error) {
	topK := req.TopK
	switch {
	case topK < 0:
		return 0, 0, fmt.Errorf("top_k must be positive: %w", domain.ErrInvalidParameter)
	case topK == 0:
		topK = s.topK
	case topK > s.maxTopK:
		topK = s.maxTopK
	}

	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
		return 0, 0, fmt.Errorf("threshold must be in [-1, 1]: %w", domain.ErrInvalidParameter)
	}
	return topK, threshold, nil
}
