// Package reference persists narcotic reference samples as hashes behind an FT vector index.
package reference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kailas-cloud/evidex/internal/db"
	"github.com/kailas-cloud/evidex/internal/domain"
	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	"github.com/kailas-cloud/evidex/internal/domain/similarity"
)

// store is the consumer interface for references (ISP).
//
//nolint:interfacebloat // reference repo needs hash + index + search operations
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index string, tags []db.TagFilter) (int, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements usecase/reference.Repository.
type Repo struct {
	store     store
	prefix    string
	dim       int
	algorithm db.VectorAlgorithm
	hnsw      HNSWConfig
}

// New creates a reference repository for vectors of length dim. The index defaults to FLAT.
func New(s store, dim int) *Repo {
	return &Repo{
		store:     s,
		prefix:    domain.KeyPrefix,
		dim:       dim,
		algorithm: db.VectorFlat,
		hnsw:      HNSWConfig{M: 16, EFConstruct: 200},
	}
}

// WithKeyPrefix overrides the key namespace (default "evidex:").
func (r *Repo) WithKeyPrefix(prefix string) *Repo {
	if prefix != "" {
		r.prefix = prefix
	}
	return r
}

// WithHNSW switches the vector index to HNSW with the given parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.algorithm = db.VectorHNSW
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// Dim returns the vector length the index was built for.
func (r *Repo) Dim() int { return r.dim }

// EnsureIndex creates the FT index unless it already exists.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	name := r.indexName()
	exists, err := r.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		return nil
	}
	def, err := r.buildIndex()
	if err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Put stores a reference, replacing any previous one with the same ID. Returns true if created.
func (r *Repo) Put(ctx context.Context, ref *domref.Reference) (bool, error) {
	if err := r.checkDim(ref.Vector()); err != nil {
		return false, err
	}
	key := r.key(ref.ID())

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	// Replacing must drop fields the new version no longer has.
	if exists {
		if err := r.store.Del(ctx, key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
			return false, fmt.Errorf("del %s: %w", key, err)
		}
	}
	if err := r.store.HSet(ctx, key, buildHashFields(ref)); err != nil {
		return false, fmt.Errorf("hset %s: %w", key, err)
	}
	return !exists, nil
}

// Get returns a reference by ID. The vector is decoded only when withVector is set.
func (r *Repo) Get(ctx context.Context, id string, withVector bool) (domref.Reference, error) {
	key := r.key(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domref.Reference{}, fmt.Errorf("reference %s: %w", id, domain.ErrNotFound)
		}
		return domref.Reference{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return parseHashFields(id, m, withVector)
}

// Delete removes a reference.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.key(id)
	if err := r.store.Del(ctx, key); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return fmt.Errorf("reference %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Count returns the number of indexed references, optionally within one category.
func (r *Repo) Count(ctx context.Context, category string) (int, error) {
	n, err := r.store.SearchCount(ctx, r.indexName(), categoryTags(category))
	if err != nil {
		return 0, fmt.Errorf("search count: %w", err)
	}
	return n, nil
}

// Search ranks stored references against query by cosine similarity.
// Only hits strictly above threshold are returned, highest first, ties ordered by ID.
func (r *Repo) Search(
	ctx context.Context, query []float32, topK int, threshold float64, category string,
) ([]similarity.Result, error) {
	if len(query) == 0 || topK <= 0 || math.IsNaN(threshold) {
		return []similarity.Result{}, nil
	}
	if err := r.checkDim(query); err != nil {
		return nil, err
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		Tags:         categoryTags(category),
		Vector:       query,
		K:            topK,
		ReturnFields: metadataFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}

	return r.rank(sr, topK, threshold), nil
}

func (r *Repo) rank(sr *db.SearchResult, topK int, threshold float64) []similarity.Result {
	if sr == nil || len(sr.Entries) == 0 {
		return []similarity.Result{}
	}

	refPrefix := r.refPrefix()
	results := make([]similarity.Result, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		if e.Score <= threshold {
			continue
		}
		results = append(results, similarity.Result{
			ID:         strings.TrimPrefix(e.Key, refPrefix),
			Similarity: e.Score,
			Metadata:   parseMetadata(e.Fields).Map(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func (r *Repo) checkDim(v []float32) error {
	if len(v) != r.dim {
		return fmt.Errorf("%w: got %d, index expects %d", domain.ErrVectorDimMismatch, len(v), r.dim)
	}
	return nil
}

func categoryTags(category string) []db.TagFilter {
	if category == "" {
		return nil
	}
	return []db.TagFilter{{Field: fieldDrugCategory, Value: category}}
}

func (r *Repo) indexName() string { return r.prefix + "references" }
func (r *Repo) refPrefix() string { return r.prefix + "ref:" }
func (r *Repo) key(id string) string {
	return r.refPrefix() + id
}
