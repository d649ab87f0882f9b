package chi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	healthuc "github.com/kailas-cloud/evidex/internal/usecase/health"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
	referenceuc "github.com/kailas-cloud/evidex/internal/usecase/reference"
)

// --- Fakes ---

type fakeAnalyzer struct {
	report analysis.Report
	err    error
}

func (f *fakeAnalyzer) Analyze(context.Context, []byte) (analysis.Report, error) {
	return f.report, f.err
}

type fakeVectorizer struct {
	vector []float32
	err    error
	opts   pipeline.Options
	data   []byte
}

func (f *fakeVectorizer) Vectorize(_ context.Context, data []byte, opts pipeline.Options) (pipeline.Result, error) {
	f.opts, f.data = opts, data
	if f.err != nil {
		return pipeline.Result{}, f.err
	}
	return pipeline.Result{Vector: f.vector, RawDim: 8, Segmentation: pipeline.Segmentation{Applied: opts.SegmentFirst}}, nil
}

type fakeComparer struct {
	score     float64
	err       error
	normalize bool
}

func (f *fakeComparer) Similarity(_ context.Context, _, _ []byte, normalize bool) (float64, error) {
	f.normalize = normalize
	return f.score, f.err
}

type fakeReferences struct {
	indexFn  func(id string, meta domref.Metadata) (domref.Reference, bool, error)
	getFn    func(id string, withVector bool) (domref.Reference, error)
	deleteFn func(id string) error
	searchFn func(req referenceuc.SearchRequest) (referenceuc.SearchResponse, error)
}

func (f *fakeReferences) Index(_ context.Context, id string, meta domref.Metadata, _ []byte) (domref.Reference, bool, error) {
	return f.indexFn(id, meta)
}

func (f *fakeReferences) Get(_ context.Context, id string, withVector bool) (domref.Reference, error) {
	return f.getFn(id, withVector)
}

func (f *fakeReferences) Delete(_ context.Context, id string) error { return f.deleteFn(id) }

func (f *fakeReferences) Search(_ context.Context, _ []byte, req referenceuc.SearchRequest) (referenceuc.SearchResponse, error) {
	return f.searchFn(req)
}

type fakeHealth struct {
	ready     bool
	dbOK      bool
	warmupErr error
}

func (f *fakeHealth) Check(context.Context) healthuc.Report {
	db := healthuc.CheckOK
	status := healthuc.Healthy
	if !f.dbOK {
		db = healthuc.CheckError
		status = healthuc.Degraded
	}
	return healthuc.Report{Status: status, Checks: map[string]healthuc.CheckResult{"database": db}}
}

func (f *fakeHealth) Ready() healthuc.ReadyReport {
	return healthuc.ReadyReport{Ready: f.ready, Models: map[string]bool{"segmentation": f.ready}}
}

func (f *fakeHealth) Status() healthuc.StatusReport {
	return healthuc.StatusReport{ServiceReady: f.ready}
}

func (f *fakeHealth) Warmup(context.Context) (healthuc.WarmupReport, error) {
	if f.warmupErr != nil {
		return healthuc.WarmupReport{}, f.warmupErr
	}
	return healthuc.WarmupReport{Done: true}, nil
}

func (f *fakeHealth) ServiceReady() bool { return f.ready }

// --- Harness ---

type testEnv struct {
	analyzer   *fakeAnalyzer
	vectors    *fakeVectorizer
	comparer   *fakeComparer
	references *fakeReferences
	health     *fakeHealth
	handler    http.Handler
}

var testDefaults = pipeline.Options{SegmentFirst: true, Normalize: true, TargetDim: 16000}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		analyzer:   &fakeAnalyzer{},
		vectors:    &fakeVectorizer{vector: []float32{1, 0.5}},
		comparer:   &fakeComparer{},
		references: &fakeReferences{},
		health:     &fakeHealth{ready: true, dbOK: true},
	}
	srv := NewServer(e.analyzer, e.vectors, e.comparer, e.references, e.health, testDefaults, zap.NewNop())

	r := chi.NewRouter()
	r.Use(JSONRecoverer(zap.NewNop()))
	r.Use(ReadinessMiddleware(e.health.ServiceReady))
	e.handler = HandlerWithOptions(srv, ChiServerOptions{
		BaseRouter:       r,
		ErrorHandlerFunc: ParamErrorHandler,
		MaxUploadBytes:   1 << 20,
	})
	return e
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// multipartRequest builds a multipart POST with files (field → content) and plain fields.
func multipartRequest(t *testing.T, target string, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(name, name+".jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
