// Package chi is the HTTP transport: routes, parameter binding, middleware and error mapping.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/domain/analysis"
	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	"github.com/kailas-cloud/evidex/internal/domain/similarity"
	"github.com/kailas-cloud/evidex/internal/domain/vector"
	healthuc "github.com/kailas-cloud/evidex/internal/usecase/health"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
	referenceuc "github.com/kailas-cloud/evidex/internal/usecase/reference"
)

// maxTargetDim bounds the target_dim parameter of the convert endpoint.
const maxTargetDim = 1 << 17

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server implements ServerInterface.
type Server struct {
	analyzer      Analyzer
	vectors       Vectorizer
	comparer      Comparer
	references    References
	health        Health
	defaults      pipeline.Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server. defaults are the vectorization options used when
// a request does not override them.
func NewServer(
	analyzer Analyzer,
	vectors Vectorizer,
	comparer Comparer,
	references References,
	health Health,
	defaults pipeline.Options,
	logger *zap.Logger,
) *Server {
	s := &Server{
		analyzer:   analyzer,
		vectors:    vectors,
		comparer:   comparer,
		references: references,
		health:     health,
		defaults:   defaults,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidImageInput, http.StatusBadRequest, ErrorCodeInvalidImage),
		sentinelHandler(domain.ErrInvalidParameter, http.StatusBadRequest, ErrorCodeBadRequest),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, ErrorCodeVectorDimMismatch),
		sentinelHandler(domain.ErrDegenerateVectorInput, http.StatusUnprocessableEntity, ErrorCodeDegenerateVector),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
		sentinelHandler(domain.ErrModelUnavailable, http.StatusServiceUnavailable, ErrorCodeModelUnavailable),
		sentinelHandler(domain.ErrNotReady, http.StatusServiceUnavailable, ErrorCodeNotReady),
	}
	return s
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	// Models still loading is not a liveness failure; a dead database is.
	httpStatus := http.StatusOK
	if report.Checks["database"] != healthuc.CheckOK {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: report.Checks,
	})
}

// ReadyCheck handles GET /ready.
func (s *Server) ReadyCheck(w http.ResponseWriter, _ *http.Request) {
	report := s.health.Ready()
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// ServiceStatus handles GET /status.
func (s *Server) ServiceStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Status())
}

// Warmup handles POST /warmup.
func (s *Server) Warmup(w http.ResponseWriter, r *http.Request) {
	report, err := s.health.Warmup(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// AnalyzeImage handles POST /api/analyze.
func (s *Server) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	data, ok := s.requireFile(w, r, "image", "file")
	if !ok {
		return
	}

	report, err := s.analyzer.Analyze(r.Context(), data)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportToResponse(report))
}

// ConvertVector handles POST /api/vectors/convert.
func (s *Server) ConvertVector(w http.ResponseWriter, r *http.Request, params ConvertVectorParams) {
	opts := s.defaults
	if params.SegmentFirst != nil {
		opts.SegmentFirst = *params.SegmentFirst
	}
	if params.Normalize != nil {
		opts.Normalize = *params.Normalize
	}
	if params.TargetDim != nil {
		if *params.TargetDim <= 0 || *params.TargetDim > maxTargetDim {
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest,
				fmt.Sprintf("target_dim must be between 1 and %d", maxTargetDim))
			return
		}
		opts.TargetDim = *params.TargetDim
	}
	format := VectorFormatBase64
	if params.Format != nil {
		format = *params.Format
	}
	if format != VectorFormatBase64 && format != VectorFormatLiteral {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, `format must be "base64" or "literal"`)
		return
	}

	data, ok := s.requireFile(w, r, "file")
	if !ok {
		return
	}

	res, err := s.vectors.Vectorize(r.Context(), data, opts)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, vectorResponse{
		Vector:        encodeVector(res.Vector, format),
		Format:        format,
		Dimensions:    len(res.Vector),
		RawDimensions: res.RawDim,
		Normalized:    opts.Normalize,
		Segmentation:  res.Segmentation,
	})
}

// CompareImages handles POST /api/vectors/similarity.
func (s *Server) CompareImages(w http.ResponseWriter, r *http.Request, params SimilarityParams) {
	normalize := s.defaults.Normalize
	if params.Normalize != nil {
		normalize = *params.Normalize
	}

	a, ok := s.requireFile(w, r, "file1")
	if !ok {
		return
	}
	b, ok := s.requireFile(w, r, "file2")
	if !ok {
		return
	}

	score, err := s.comparer.Similarity(r.Context(), a, b, normalize)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, similarityResponse{Similarity: score, Normalized: normalize})
}

// IndexReference handles POST /api/references.
func (s *Server) IndexReference(w http.ResponseWriter, r *http.Request, params IndexReferenceParams) {
	data, ok := s.requireFile(w, r, "file")
	if !ok {
		return
	}

	meta := domref.Metadata{
		DrugType:        deref(params.DrugType),
		DrugCategory:    deref(params.DrugCategory),
		Characteristics: deref(params.Characteristics),
		ImageURL:        deref(params.ImageURL),
	}
	ref, created, err := s.references.Index(r.Context(), deref(params.ID), meta, data)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/api/references/"+ref.ID())
	}
	writeJSON(w, status, referenceToResponse(&ref, false))
}

// SearchReferences handles POST /api/references/search.
func (s *Server) SearchReferences(w http.ResponseWriter, r *http.Request, params SearchReferencesParams) {
	data, ok := s.requireFile(w, r, "file")
	if !ok {
		return
	}

	req := referenceuc.SearchRequest{
		Threshold: params.Threshold,
		Category:  deref(params.Category),
	}
	if params.TopK != nil {
		if *params.TopK <= 0 {
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "top_k must be positive")
			return
		}
		req.TopK = *params.TopK
	}

	resp, err := s.references.Search(r.Context(), data, req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]searchResultItem, len(resp.Results))
	for i, res := range resp.Results {
		items[i] = searchResultToResponse(res)
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Results:      items,
		Total:        len(items),
		Segmentation: resp.Segmentation,
	})
}

// GetReference handles GET /api/references/{id}.
func (s *Server) GetReference(w http.ResponseWriter, r *http.Request, id string, params GetReferenceParams) {
	withVector := params.IncludeVector != nil && *params.IncludeVector

	ref, err := s.references.Get(r.Context(), id, withVector)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, referenceToResponse(&ref, withVector))
}

// DeleteReference handles DELETE /api/references/{id}.
func (s *Server) DeleteReference(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.references.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireFile returns the first present upload among fields or writes a 400.
func (s *Server) requireFile(w http.ResponseWriter, r *http.Request, fields ...string) ([]byte, bool) {
	for _, f := range fields {
		data, found, err := formFile(r, f)
		if err != nil {
			s.logger.Warn("Failed to read upload", zap.String("field", f), zap.Error(err))
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "failed to read upload "+f)
			return nil, false
		}
		if found {
			return data, true
		}
	}
	writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, fmt.Sprintf("multipart field %q is required", fields[0]))
	return nil, false
}

// ParamErrorHandler maps parameter binding errors to JSON responses.
func ParamErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	var tooLarge *RequestTooLargeError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, tooLarge.Error())
		return
	}
	var pe *InvalidParamFormatError
	if errors.As(err, &pe) {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid parameter "+pe.ParamName)
		return
	}
	writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid request")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a client-safe message without exposing internals.
// Validation errors carry their own detail; others are reduced to the sentinel text.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidParameter) {
		return err.Error()
	}
	var mu *domain.ModelUnavailableError
	if errors.As(err, &mu) {
		return mu.Error()
	}
	sentinels := []error{
		domain.ErrInvalidImageInput,
		domain.ErrVectorDimMismatch,
		domain.ErrDegenerateVectorInput,
		domain.ErrNotFound,
		domain.ErrModelUnavailable,
		domain.ErrNotReady,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}

// --- Responses ---

type healthResponse struct {
	Status string                          `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

type vectorResponse struct {
	Vector        string                `json:"vector"`
	Format        VectorFormat          `json:"format"`
	Dimensions    int                   `json:"dimensions"`
	RawDimensions int                   `json:"raw_dimensions"`
	Normalized    bool                  `json:"normalized"`
	Segmentation  pipeline.Segmentation `json:"segmentation"`
}

type similarityResponse struct {
	Similarity float64 `json:"similarity"`
	Normalized bool    `json:"normalized"`
}

type referenceResponse struct {
	ID              string    `json:"id"`
	DrugType        string    `json:"drug_type"`
	DrugCategory    string    `json:"drug_category"`
	Characteristics string    `json:"characteristics"`
	ImageURL        string    `json:"image_url"`
	CreatedAt       time.Time `json:"created_at"`
	Vector          *string   `json:"vector,omitempty"`
}

type searchResultItem struct {
	ID         string            `json:"id"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata"`
}

type searchResponse struct {
	Results      []searchResultItem    `json:"results"`
	Total        int                   `json:"total"`
	Segmentation pipeline.Segmentation `json:"segmentation"`
}

type objectResponse struct {
	analysis.Object
	Crop         []byte `json:"crop_jpeg,omitempty"`
	VectorBase64 string `json:"vector,omitempty"`
}

type reportResponse struct {
	DetectionType analysis.DetectionType `json:"detection_type"`
	Objects       []objectResponse       `json:"detected_objects"`
	Primary       []objectResponse       `json:"primary_objects"`
	Secondary     []objectResponse       `json:"secondary_objects"`
}

func reportToResponse(r analysis.Report) reportResponse {
	return reportResponse{
		DetectionType: r.DetectionType,
		Objects:       objectsToResponse(r.Objects),
		Primary:       objectsToResponse(r.Primary),
		Secondary:     objectsToResponse(r.Secondary),
	}
}

func objectsToResponse(objs []analysis.Object) []objectResponse {
	out := make([]objectResponse, len(objs))
	for i, o := range objs {
		out[i] = objectResponse{Object: o, Crop: o.Crop}
		if o.Narcotic != nil && len(o.Narcotic.Vector) > 0 {
			out[i].VectorBase64 = vector.EncodeBase64(o.Narcotic.Vector)
		}
	}
	return out
}

func referenceToResponse(ref *domref.Reference, withVector bool) referenceResponse {
	meta := ref.Metadata()
	resp := referenceResponse{
		ID:              ref.ID(),
		DrugType:        meta.DrugType,
		DrugCategory:    meta.DrugCategory,
		Characteristics: meta.Characteristics,
		ImageURL:        meta.ImageURL,
		CreatedAt:       time.UnixMilli(ref.CreatedAt()).UTC(),
	}
	if withVector && len(ref.Vector()) > 0 {
		v := vector.EncodeBase64(ref.Vector())
		resp.Vector = &v
	}
	return resp
}

func searchResultToResponse(r similarity.Result) searchResultItem {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return searchResultItem{ID: r.ID, Similarity: r.Similarity, Metadata: meta}
}

func encodeVector(v []float32, format VectorFormat) string {
	if format == VectorFormatLiteral {
		return vector.FormatLiteral(v)
	}
	return vector.EncodeBase64(v)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
