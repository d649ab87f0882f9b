package redis

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/evidex/internal/db"
	"github.com/kailas-cloud/evidex/internal/domain/vector"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

// --- hash.go tests ---

func TestHSet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "HSET" && cmd[1] == "evidex:ref:ref-1"
		})).
		Return(mock.Result(mock.RedisInt64(1)))

	s := NewStoreForTest(c)
	err := s.HSet(context.Background(), "evidex:ref:ref-1", map[string]string{"drug_type": "tablet"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHSet_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "HSET"
		})).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	err := s.HSet(context.Background(), "evidex:ref:ref-1", map[string]string{"f": "v"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %T", err)
	}
}

func TestHGetAll_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", "evidex:ref:ref-1")).
		Return(mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{
			"drug_type":     mock.RedisString("tablet"),
			"drug_category": mock.RedisString("opioid"),
		})))

	s := NewStoreForTest(c)
	m, err := s.HGetAll(context.Background(), "evidex:ref:ref-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["drug_type"] != "tablet" || m["drug_category"] != "opioid" {
		t.Errorf("unexpected map: %v", m)
	}
}

func TestHGetAll_Missing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", "evidex:ref:nope")).
		Return(mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{})))

	s := NewStoreForTest(c)
	_, err := s.HGetAll(context.Background(), "evidex:ref:nope")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestHGetAll_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", "evidex:ref:ref-1")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	_, err := s.HGetAll(context.Background(), "evidex:ref:ref-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %T", err)
	}
}

func TestDel_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "evidex:ref:ref-1")).
		Return(mock.Result(mock.RedisInt64(1)))

	s := NewStoreForTest(c)
	if err := s.Del(context.Background(), "evidex:ref:ref-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDel_Missing(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "evidex:ref:nope")).
		Return(mock.Result(mock.RedisInt64(0)))

	s := NewStoreForTest(c)
	if err := s.Del(context.Background(), "evidex:ref:nope"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestExists(t *testing.T) {
	for _, tc := range []struct {
		name  string
		count int64
		want  bool
	}{
		{"present", 1, true},
		{"absent", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)

			c.EXPECT().
				Do(gomock.Any(), mock.Match("EXISTS", "evidex:ref:ref-1")).
				Return(mock.Result(mock.RedisInt64(tc.count)))

			s := NewStoreForTest(c)
			got, err := s.Exists(context.Background(), "evidex:ref:ref-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Exists = %v, want %v", got, tc.want)
			}
		})
	}
}

// --- kv.go tests ---

func TestGet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "evidex:vcache:abc")).
		Return(mock.Result(mock.RedisString("payload")))

	s := NewStoreForTest(c)
	data, err := s.Get(context.Background(), "evidex:vcache:abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "evidex:vcache:abc")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c)
	_, err := s.Get(context.Background(), "evidex:vcache:abc")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSetWithTTL_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "evidex:vcache:abc", "payload", "EX", "3600")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c)
	if err := s.SetWithTTL(context.Background(), "evidex:vcache:abc", []byte("payload"), 3600*1e9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- index.go tests ---

func referenceIndex(t *testing.T) *db.IndexDefinition {
	t.Helper()
	idx, err := db.NewIndex("evidex:references").
		OnHash().
		Prefix("evidex:ref:").
		Tag("drug_category").
		Numeric("created_at").
		VectorFlat("vector", 16000, db.DistanceCosine).
		Build()
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

func TestCreateIndex_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.CREATE" && cmd[1] == "evidex:references" &&
				slices.Contains(cmd, "HASH") && slices.Contains(cmd, "16000")
		})).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c)
	if err := s.CreateIndex(context.Background(), referenceIndex(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.CREATE"
		})).
		Return(mock.Result(mock.RedisError("Index already exists")))

	s := NewStoreForTest(c)
	err := s.CreateIndex(context.Background(), referenceIndex(t))
	if !errors.Is(err, db.ErrIndexExists) {
		t.Errorf("expected ErrIndexExists, got %v", err)
	}
}

func TestIndexExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().
			Do(gomock.Any(), mock.Match("FT.INFO", "evidex:references")).
			Return(mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString("evidex:references")))),
		c.EXPECT().
			Do(gomock.Any(), mock.Match("FT.INFO", "evidex:references")).
			Return(mock.Result(mock.RedisError("Unknown index name"))),
	)

	s := NewStoreForTest(c)
	if ok, err := s.IndexExists(context.Background(), "evidex:references"); err != nil || !ok {
		t.Fatalf("first check = %v, %v", ok, err)
	}
	if ok, err := s.IndexExists(context.Background(), "evidex:references"); err != nil || ok {
		t.Fatalf("second check = %v, %v", ok, err)
	}
}

func TestBuildCreateArgs_Validation(t *testing.T) {
	_, err := buildCreateArgs(&db.IndexDefinition{Fields: []db.IndexField{{Name: "f", Type: db.IndexFieldTag}}})
	if err == nil {
		t.Error("expected error for empty name")
	}
	_, err = buildCreateArgs(&db.IndexDefinition{Name: "evidex:references"})
	if err == nil {
		t.Error("expected error for empty fields")
	}
}

func TestBuildFieldArgs_Vector(t *testing.T) {
	args, err := buildFieldArgs(&db.IndexField{
		Name: "vector", Type: db.IndexFieldVector,
		VectorDim: 4096, VectorAlgo: db.VectorHNSW,
		VectorM: 16, VectorEFConstruct: 200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"vector", "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32", "DIM", "4096", "DISTANCE_METRIC", "COSINE",
		"M", "16", "EF_CONSTRUCTION", "200",
	}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v\nwant %v", args, want)
	}
}

func TestBuildFieldArgs_Errors(t *testing.T) {
	if _, err := buildFieldArgs(&db.IndexField{Type: db.IndexFieldTag}); err == nil {
		t.Error("expected error for empty field name")
	}
	if _, err := buildFieldArgs(&db.IndexField{Name: "f", Type: db.IndexFieldType(99)}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := buildFieldArgs(&db.IndexField{Name: "f", Type: db.IndexFieldVector}); err == nil {
		t.Error("expected error for zero vector dim")
	}
}

// --- search.go tests ---

func TestSearchKNN_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	q := []float32{0.1, 0.2}
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" &&
				cmd[2] == "*=>[KNN 3 @vector $BLOB]" &&
				slices.Contains(cmd, string(vector.ToBytes(q))) &&
				slices.Contains(cmd, vectorScoreField)
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("evidex:ref:a"),
			mock.RedisArray(
				mock.RedisString("__vector_score"), mock.RedisString("0.1"),
				mock.RedisString("drug_type"), mock.RedisString("tablet"),
			),
			mock.RedisString("evidex:ref:b"),
			mock.RedisArray(
				mock.RedisString("__vector_score"), mock.RedisString("1.5"),
			),
		)))

	s := NewStoreForTest(c)
	result, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:    "evidex:references",
		Vector:       q,
		K:            3,
		ReturnFields: []string{"drug_type"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 2 || len(result.Entries) != 2 {
		t.Fatalf("result = %+v", result)
	}
	a := result.Entries[0]
	if a.Key != "evidex:ref:a" || a.Fields["drug_type"] != "tablet" {
		t.Errorf("entry = %+v", a)
	}
	if _, ok := a.Fields[vectorScoreField]; ok {
		t.Error("score field must be stripped from Fields")
	}
	if a.Score < 0.899 || a.Score > 0.901 {
		t.Errorf("score = %f, want 0.9", a.Score)
	}
	// distance above 1 is reported as negative similarity, not clamped
	if b := result.Entries[1]; b.Score > -0.499 || b.Score < -0.501 {
		t.Errorf("score = %f, want -0.5", b.Score)
	}
}

func TestSearchKNN_TagPrefilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" &&
				cmd[2] == `(@drug_category:{pain\ relief})=>[KNN 5 @vector $BLOB]`
		})).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	s := NewStoreForTest(c)
	result, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "evidex:references",
		Tags:      []db.TagFilter{{Field: "drug_category", Value: "pain relief"}},
		Vector:    []float32{1},
		K:         5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(result.Entries))
	}
}

func TestSearchKNN_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	_, err := s.SearchKNN(context.Background(), &db.KNNQuery{IndexName: "idx", Vector: []float32{0.1}, K: 10})
	if !isDBError(err) {
		t.Fatalf("expected db.Error, got %v", err)
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	if _, err := s.SearchKNN(ctx, &db.KNNQuery{Vector: []float32{0.1}, K: 10}); err == nil {
		t.Error("expected error for empty index name")
	}
	if _, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", K: 10}); err == nil {
		t.Error("expected error for empty vector")
	}
	if _, err := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", Vector: []float32{0.1}}); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestSearchCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	gomock.InOrder(
		c.EXPECT().
			Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
				return cmd[0] == "FT.SEARCH" && cmd[2] == "*"
			})).
			Return(mock.Result(mock.RedisArray(mock.RedisInt64(42)))),
		c.EXPECT().
			Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
				return cmd[0] == "FT.SEARCH" && cmd[2] == "@drug_category:{opioid}"
			})).
			Return(mock.Result(mock.RedisArray())),
	)

	s := NewStoreForTest(c)
	count, err := s.SearchCount(context.Background(), "evidex:references", nil)
	if err != nil || count != 42 {
		t.Fatalf("count = %d, %v", count, err)
	}
	count, err = s.SearchCount(context.Background(), "evidex:references",
		[]db.TagFilter{{Field: "drug_category", Value: "opioid"}})
	if err != nil || count != 0 {
		t.Fatalf("count = %d, %v", count, err)
	}
}

func TestBuildTagQuery(t *testing.T) {
	tests := []struct {
		name string
		tags []db.TagFilter
		want string
	}{
		{"empty", nil, ""},
		{"single", []db.TagFilter{{Field: "drug_category", Value: "opioid"}}, "@drug_category:{opioid}"},
		{"escaped", []db.TagFilter{{Field: "drug_type", Value: "3-MMC (crystal)"}}, `@drug_type:{3\-MMC\ \(crystal\)}`},
		{"skips blank", []db.TagFilter{{Field: "drug_type", Value: ""}, {Field: "a", Value: "b"}}, "@a:{b}"},
		{"and", []db.TagFilter{{Field: "a", Value: "x"}, {Field: "b", Value: "y"}}, "@a:{x} @b:{y}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildTagQuery(tc.tags); got != tc.want {
				t.Errorf("buildTagQuery = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsRedisErr(t *testing.T) {
	if isRedisErr(errors.New("index already exists"), "index already exists") {
		t.Error("plain errors are not server errors")
	}
}

// isDBError is a test helper for checking wrapped db.Error.
func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}
