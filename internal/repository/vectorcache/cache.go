// Package vectorcache memoizes image vectorization results in the key-value store.
package vectorcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/db"
	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/domain/vector"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

// store is the consumer interface for the vector cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Vectorizer is the wrapped pipeline.
type Vectorizer interface {
	Vectorize(ctx context.Context, data []byte, opts pipeline.Options) (pipeline.Result, error)
}

type entry struct {
	Vector       []byte                `json:"v"`
	RawDim       int                   `json:"raw_dim"`
	Segmentation pipeline.Segmentation `json:"seg"`
}

// CachedVectorizer caches vectors keyed by the image digest and options.
type CachedVectorizer struct {
	inner      Vectorizer
	store      store
	prefix     string
	ttl        time.Duration
	defaultDim int
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. ttl <= 0 stores entries without expiry.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner Vectorizer,
	s store,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedVectorizer {
	return &CachedVectorizer{
		inner:      inner,
		store:      s,
		prefix:     domain.KeyPrefix + "vcache:",
		ttl:        ttl,
		defaultDim: vector.DefaultTargetDim,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// WithKeyPrefix overrides the key namespace (default "evidex:").
func (c *CachedVectorizer) WithKeyPrefix(prefix string) *CachedVectorizer {
	if prefix != "" {
		c.prefix = prefix + "vcache:"
	}
	return c
}

// WithDefaultTargetDim sets the dimension the inner pipeline uses for TargetDim 0.
func (c *CachedVectorizer) WithDefaultTargetDim(dim int) *CachedVectorizer {
	if dim > 0 {
		c.defaultDim = dim
	}
	return c
}

// Vectorize returns a cached result or calls the inner pipeline.
// Store failures degrade to a miss; pipeline errors are never cached.
func (c *CachedVectorizer) Vectorize(ctx context.Context, data []byte, opts pipeline.Options) (pipeline.Result, error) {
	key := c.cacheKey(data, opts)

	if res, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return res, nil
	}
	c.incCache("miss")

	res, err := c.inner.Vectorize(ctx, data, opts)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("vectorize: %w", err)
	}

	c.putToCache(ctx, key, res)
	return res, nil
}

func (c *CachedVectorizer) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedVectorizer) cacheKey(data []byte, opts pipeline.Options) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(opts.SegmentFirst)))
	h.Write([]byte(strconv.FormatBool(opts.Normalize)))
	dim := opts.TargetDim
	if dim <= 0 {
		dim = c.defaultDim
	}
	h.Write([]byte(strconv.Itoa(dim)))
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedVectorizer) getFromCache(ctx context.Context, key string) (pipeline.Result, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached vector", zap.String("key", key), zap.Error(err))
		}
		return pipeline.Result{}, false
	}
	if len(data) == 0 {
		return pipeline.Result{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("Failed to parse cached vector", zap.String("key", key), zap.Error(err))
		return pipeline.Result{}, false
	}
	vec, err := vector.FromBytes(e.Vector)
	if err != nil || len(vec) == 0 {
		c.logger.Warn("Corrupt cached vector", zap.String("key", key), zap.Int("bytes", len(e.Vector)))
		return pipeline.Result{}, false
	}

	return pipeline.Result{Vector: vec, RawDim: e.RawDim, Segmentation: e.Segmentation}, true
}

func (c *CachedVectorizer) putToCache(ctx context.Context, key string, res pipeline.Result) {
	data, err := json.Marshal(entry{
		Vector:       vector.ToBytes(res.Vector),
		RawDim:       res.RawDim,
		Segmentation: res.Segmentation,
	})
	if err != nil {
		c.logger.Warn("Failed to encode vector for cache", zap.Error(err))
		return
	}

	if c.ttl > 0 {
		err = c.store.SetWithTTL(ctx, key, data, c.ttl)
	} else {
		err = c.store.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("Failed to cache vector", zap.String("key", key), zap.Error(err))
	}
}
