package chi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ErrorCode is the machine-readable error code of an ErrorResponse.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest        ErrorCode = "bad_request"
	ErrorCodeInvalidImage      ErrorCode = "invalid_image"
	ErrorCodeVectorDimMismatch ErrorCode = "vector_dim_mismatch"
	ErrorCodeDegenerateVector  ErrorCode = "degenerate_vector"
	ErrorCodeNotFound          ErrorCode = "not_found"
	ErrorCodeModelUnavailable  ErrorCode = "model_unavailable"
	ErrorCodeNotReady          ErrorCode = "not_ready"
	ErrorCodeUnauthorized      ErrorCode = "unauthorized"
	ErrorCodePayloadTooLarge   ErrorCode = "payload_too_large"
	ErrorCodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// VectorFormat selects the vector wire encoding.
type VectorFormat string

// Vector formats.
const (
	VectorFormatBase64  VectorFormat = "base64"
	VectorFormatLiteral VectorFormat = "literal"
)

// ConvertVectorParams are the parameters of POST /api/vectors/convert.
type ConvertVectorParams struct {
	SegmentFirst *bool         `form:"segment_first,omitempty" json:"segment_first,omitempty"`
	Normalize    *bool         `form:"normalize,omitempty" json:"normalize,omitempty"`
	TargetDim    *int          `form:"target_dim,omitempty" json:"target_dim,omitempty"`
	Format       *VectorFormat `form:"format,omitempty" json:"format,omitempty"`
}

// SimilarityParams are the parameters of POST /api/vectors/similarity.
type SimilarityParams struct {
	Normalize *bool `form:"normalize,omitempty" json:"normalize,omitempty"`
}

// IndexReferenceParams are the parameters of POST /api/references.
type IndexReferenceParams struct {
	ID              *string `form:"id,omitempty" json:"id,omitempty"`
	DrugType        *string `form:"drug_type,omitempty" json:"drug_type,omitempty"`
	DrugCategory    *string `form:"drug_category,omitempty" json:"drug_category,omitempty"`
	Characteristics *string `form:"characteristics,omitempty" json:"characteristics,omitempty"`
	ImageURL        *string `form:"image_url,omitempty" json:"image_url,omitempty"`
}

// GetReferenceParams are the parameters of GET /api/references/{id}.
type GetReferenceParams struct {
	IncludeVector *bool `form:"include_vector,omitempty" json:"include_vector,omitempty"`
}

// SearchReferencesParams are the parameters of POST /api/references/search.
type SearchReferencesParams struct {
	TopK      *int     `form:"top_k,omitempty" json:"top_k,omitempty"`
	Threshold *float64 `form:"threshold,omitempty" json:"threshold,omitempty"`
	Category  *string  `form:"category,omitempty" json:"category,omitempty"`
}

// ServerInterface lists every HTTP operation.
type ServerInterface interface {
	// (GET /health)
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// (GET /ready)
	ReadyCheck(w http.ResponseWriter, r *http.Request)
	// (GET /status)
	ServiceStatus(w http.ResponseWriter, r *http.Request)
	// (POST /warmup)
	Warmup(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	Metrics(w http.ResponseWriter, r *http.Request)
	// (POST /api/analyze)
	AnalyzeImage(w http.ResponseWriter, r *http.Request)
	// (POST /api/vectors/convert)
	ConvertVector(w http.ResponseWriter, r *http.Request, params ConvertVectorParams)
	// (POST /api/vectors/similarity)
	CompareImages(w http.ResponseWriter, r *http.Request, params SimilarityParams)
	// (POST /api/references)
	IndexReference(w http.ResponseWriter, r *http.Request, params IndexReferenceParams)
	// (POST /api/references/search)
	SearchReferences(w http.ResponseWriter, r *http.Request, params SearchReferencesParams)
	// (GET /api/references/{id})
	GetReference(w http.ResponseWriter, r *http.Request, id string, params GetReferenceParams)
	// (DELETE /api/references/{id})
	DeleteReference(w http.ResponseWriter, r *http.Request, id string)
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	Middlewares      []func(http.Handler) http.Handler
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	MaxUploadBytes   int64
}

// ServerInterfaceWrapper binds parameters before calling the ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	MaxUploadBytes   int64
}

// InvalidParamFormatError is returned when a parameter cannot be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// RequestTooLargeError is returned when the multipart body exceeds the upload limit.
type RequestTooLargeError struct {
	Limit int64
}

func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// params merges query string and multipart form fields. Query values win.
func (siw *ServerInterfaceWrapper) params(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	values := url.Values{}
	if ct := r.Header.Get("Content-Type"); ct != "" && r.Body != nil && r.Body != http.NoBody {
		if siw.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, siw.MaxUploadBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, &RequestTooLargeError{Limit: mbe.Limit}
			}
			return nil, &InvalidParamFormatError{ParamName: "body", Err: err}
		}
		if r.MultipartForm != nil {
			for k, v := range r.MultipartForm.Value {
				values[k] = v
			}
		}
	}
	for k, v := range r.URL.Query() {
		values[k] = v
	}
	return values, nil
}

func (siw *ServerInterfaceWrapper) bind(w http.ResponseWriter, r *http.Request, values url.Values, name string, dest any) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, values, dest); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

// HealthCheck operation middleware.
func (siw *ServerInterfaceWrapper) HealthCheck(w http.ResponseWriter, r *http.Request) {
	siw.Handler.HealthCheck(w, r)
}

// ReadyCheck operation middleware.
func (siw *ServerInterfaceWrapper) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ReadyCheck(w, r)
}

// ServiceStatus operation middleware.
func (siw *ServerInterfaceWrapper) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ServiceStatus(w, r)
}

// Warmup operation middleware.
func (siw *ServerInterfaceWrapper) Warmup(w http.ResponseWriter, r *http.Request) {
	siw.Handler.Warmup(w, r)
}

// Metrics operation middleware.
func (siw *ServerInterfaceWrapper) Metrics(w http.ResponseWriter, r *http.Request) {
	siw.Handler.Metrics(w, r)
}

// AnalyzeImage operation middleware.
func (siw *ServerInterfaceWrapper) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if _, err := siw.params(w, r); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.AnalyzeImage(w, r)
}

// ConvertVector operation middleware.
func (siw *ServerInterfaceWrapper) ConvertVector(w http.ResponseWriter, r *http.Request) {
	values, err := siw.params(w, r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	var params ConvertVectorParams
	if !siw.bind(w, r, values, "segment_first", &params.SegmentFirst) ||
		!siw.bind(w, r, values, "normalize", &params.Normalize) ||
		!siw.bind(w, r, values, "target_dim", &params.TargetDim) ||
		!siw.bind(w, r, values, "format", &params.Format) {
		return
	}
	siw.Handler.ConvertVector(w, r, params)
}

// CompareImages operation middleware.
func (siw *ServerInterfaceWrapper) CompareImages(w http.ResponseWriter, r *http.Request) {
	values, err := siw.params(w, r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	var params SimilarityParams
	if !siw.bind(w, r, values, "normalize", &params.Normalize) {
		return
	}
	siw.Handler.CompareImages(w, r, params)
}

// IndexReference operation middleware.
func (siw *ServerInterfaceWrapper) IndexReference(w http.ResponseWriter, r *http.Request) {
	values, err := siw.params(w, r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	var params IndexReferenceParams
	if !siw.bind(w, r, values, "id", &params.ID) ||
		!siw.bind(w, r, values, "drug_type", &params.DrugType) ||
		!siw.bind(w, r, values, "drug_category", &params.DrugCategory) ||
		!siw.bind(w, r, values, "characteristics", &params.Characteristics) ||
		!siw.bind(w, r, values, "image_url", &params.ImageURL) {
		return
	}
	siw.Handler.IndexReference(w, r, params)
}

// SearchReferences operation middleware.
func (siw *ServerInterfaceWrapper) SearchReferences(w http.ResponseWriter, r *http.Request) {
	values, err := siw.params(w, r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	var params SearchReferencesParams
	if !siw.bind(w, r, values, "top_k", &params.TopK) ||
		!siw.bind(w, r, values, "threshold", &params.Threshold) ||
		!siw.bind(w, r, values, "category", &params.Category) {
		return
	}
	siw.Handler.SearchReferences(w, r, params)
}

// GetReference operation middleware.
func (siw *ServerInterfaceWrapper) GetReference(w http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}

	var params GetReferenceParams
	if !siw.bind(w, r, r.URL.Query(), "include_vector", &params.IncludeVector) {
		return
	}
	siw.Handler.GetReference(w, r, id, params)
}

// DeleteReference operation middleware.
func (siw *ServerInterfaceWrapper) DeleteReference(w http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	siw.Handler.DeleteReference(w, r, id)
}

// HandlerWithOptions registers every operation on a chi router.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	for _, mw := range options.Middlewares {
		r.Use(mw)
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
		MaxUploadBytes:   options.MaxUploadBytes,
	}

	r.Get("/health", wrapper.HealthCheck)
	r.Get("/ready", wrapper.ReadyCheck)
	r.Get("/status", wrapper.ServiceStatus)
	r.Post("/warmup", wrapper.Warmup)
	r.Get("/metrics", wrapper.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", wrapper.AnalyzeImage)
		r.Post("/vectors/convert", wrapper.ConvertVector)
		r.Post("/vectors/similarity", wrapper.CompareImages)
		r.Post("/references", wrapper.IndexReference)
		r.Post("/references/search", wrapper.SearchReferences)
		r.Get("/references/{id}", wrapper.GetReference)
		r.Delete("/references/{id}", wrapper.DeleteReference)
	})
	return r
}

// multipartMemory is how much of an upload is kept in memory before spilling to disk.
const multipartMemory = 8 << 20

// formFile reads one uploaded file. The form must already be parsed.
func formFile(r *http.Request, field string) ([]byte, bool, error) {
	if r.MultipartForm == nil {
		return nil, false, nil
	}
	fhs := r.MultipartForm.File[field]
	if len(fhs) == 0 {
		return nil, false, nil
	}
	data, err := readFileHeader(fhs[0])
	return data, true, err
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}
