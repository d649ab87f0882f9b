package vectorcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/db"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

type mockVectorizer struct {
	result pipeline.Result
	err    error
	calls  int
	opts   pipeline.Options
}

func (m *mockVectorizer) Vectorize(_ context.Context, _ []byte, opts pipeline.Options) (pipeline.Result, error) {
	m.calls++
	m.opts = opts
	return m.result, m.err
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	data     map[string][]byte
	getErr   error
	lastTTL  time.Duration
	setCalls int
	getFn    func(ctx context.Context, key string) ([]byte, error)
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKVStore) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, 0)
}

func (m *mockKVStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.setCalls++
	m.lastTTL = ttl
	m.data[key] = value
	return nil
}

func newTestCache(t *testing.T, inner *mockVectorizer, ttl time.Duration) (*CachedVectorizer, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{data: map[string][]byte{}}
	return New(inner, ms, ttl, nil, zap.NewNop()), ms
}
