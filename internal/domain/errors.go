package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParameter signals a malformed request parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrModelUnavailable signals that a model role is not loaded (still loading or failed).
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrNotReady signals that the service has not passed its readiness gate.
	ErrNotReady = errors.New("service not ready")
	// ErrInvalidImageInput signals image bytes that cannot be decoded.
	ErrInvalidImageInput = errors.New("invalid image input")
	// ErrDegenerateVectorInput signals an empty or all-zero feature vector.
	ErrDegenerateVectorInput = errors.New("degenerate vector input")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrRouterVocabulary signals a router label missing from the segmentation class table.
	ErrRouterVocabulary = errors.New("router vocabulary mismatch")
)

// ModelUnavailableError names the role that could not serve a request.
type ModelUnavailableError struct {
	Role string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrModelUnavailable.Error(), e.Role)
}

func (e *ModelUnavailableError) Unwrap() error { return ErrModelUnavailable }

// NewModelUnavailable creates a model unavailable error for the given role.
func NewModelUnavailable(role string) error {
	return &ModelUnavailableError{Role: role}
}
