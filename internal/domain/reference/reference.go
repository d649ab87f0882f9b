// Package reference holds the persisted narcotic reference sample.
package reference

import (
	"fmt"
	"regexp"
	"time"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxFieldSize caps each free-text metadata field in bytes.
const MaxFieldSize = 4096

// Metadata describes what a reference sample is.
type Metadata struct {
	DrugType        string `json:"drug_type" yaml:"drug_type"`
	DrugCategory    string `json:"drug_category" yaml:"drug_category"`
	Characteristics string `json:"characteristics" yaml:"characteristics"`
	ImageURL        string `json:"image_url" yaml:"image_url"`
}

// Map flattens the metadata for similarity results.
func (m Metadata) Map() map[string]string {
	return map[string]string{
		"drug_type":       m.DrugType,
		"drug_category":   m.DrugCategory,
		"characteristics": m.Characteristics,
		"image_url":       m.ImageURL,
	}
}

// Reference is one indexed sample (immutable value object).
type Reference struct {
	id        string
	meta      Metadata
	vector    []float32
	createdAt int64
}

// New validates and creates a Reference.
// ID: ^[a-zA-Z0-9_-]+$, 1-128 chars. Vector must be non-empty.
func New(id string, meta Metadata, vector []float32, now time.Time) (Reference, error) {
	if id == "" {
		return Reference{}, fmt.Errorf("reference ID is required")
	}
	if len(id) > 128 {
		return Reference{}, fmt.Errorf("reference ID too long (max 128)")
	}
	if !idRegex.MatchString(id) {
		return Reference{}, fmt.Errorf("reference ID must be alphanumeric with underscores and hyphens")
	}
	if len(vector) == 0 {
		return Reference{}, fmt.Errorf("reference vector is required")
	}
	for name, v := range map[string]string{
		"drug_type":       meta.DrugType,
		"drug_category":   meta.DrugCategory,
		"characteristics": meta.Characteristics,
		"image_url":       meta.ImageURL,
	} {
		if len(v) > MaxFieldSize {
			return Reference{}, fmt.Errorf("%s too large (max %d bytes)", name, MaxFieldSize)
		}
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	return Reference{id: id, meta: meta, vector: vec, createdAt: now.UnixMilli()}, nil
}

// Reconstruct creates a Reference without validation (storage hydration).
func Reconstruct(id string, meta Metadata, vector []float32, createdAt int64) Reference {
	return Reference{id: id, meta: meta, vector: vector, createdAt: createdAt}
}

// ID returns the reference identifier.
func (r *Reference) ID() string { return r.id }

// Metadata returns the descriptive fields.
func (r *Reference) Metadata() Metadata { return r.meta }

// Vector returns the normalized feature vector.
func (r *Reference) Vector() []float32 { return r.vector }

// CreatedAt returns the creation time in unix milliseconds.
func (r *Reference) CreatedAt() int64 { return r.createdAt }

// WithoutVector returns a copy with the vector dropped, for metadata-only reads.
func (r *Reference) WithoutVector() Reference {
	return Reference{id: r.id, meta: r.meta, createdAt: r.createdAt}
}
