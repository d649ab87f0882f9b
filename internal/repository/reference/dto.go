package reference

import (
	"fmt"
	"strconv"

	"github.com/kailas-cloud/evidex/internal/db"
	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
	"github.com/kailas-cloud/evidex/internal/domain/vector"
)

// Hash field names.
const (
	fieldVector          = "vector"
	fieldDrugType        = "drug_type"
	fieldDrugCategory    = "drug_category"
	fieldCharacteristics = "characteristics"
	fieldImageURL        = "image_url"
	fieldCreatedAt       = "created_at"
)

var metadataFields = []string{fieldDrugType, fieldDrugCategory, fieldCharacteristics, fieldImageURL}

// buildHashFields converts a Reference into a flat map for HSET.
// The vector is stored as raw little-endian float32 bytes, the layout the FT index reads.
func buildHashFields(ref *domref.Reference) map[string]string {
	meta := ref.Metadata()
	return map[string]string{
		fieldVector:          string(vector.ToBytes(ref.Vector())),
		fieldDrugType:        meta.DrugType,
		fieldDrugCategory:    meta.DrugCategory,
		fieldCharacteristics: meta.Characteristics,
		fieldImageURL:        meta.ImageURL,
		fieldCreatedAt:       strconv.FormatInt(ref.CreatedAt(), 10),
	}
}

func parseMetadata(m map[string]string) domref.Metadata {
	return domref.Metadata{
		DrugType:        m[fieldDrugType],
		DrugCategory:    m[fieldDrugCategory],
		Characteristics: m[fieldCharacteristics],
		ImageURL:        m[fieldImageURL],
	}
}

// parseHashFields converts a flat hash map back into a Reference.
func parseHashFields(id string, m map[string]string, withVector bool) (domref.Reference, error) {
	var createdAt int64
	if s := m[fieldCreatedAt]; s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domref.Reference{}, fmt.Errorf("parse created_at of %s: %w", id, err)
		}
		createdAt = v
	}

	var vec []float32
	if withVector {
		v, err := vector.FromBytes([]byte(m[fieldVector]))
		if err != nil {
			return domref.Reference{}, fmt.Errorf("parse vector of %s: %w", id, err)
		}
		vec = v
	}

	return domref.Reconstruct(id, parseMetadata(m), vec, createdAt), nil
}

// buildIndex creates the FT index definition over reference hashes.
func (r *Repo) buildIndex() (*db.IndexDefinition, error) {
	b := db.NewIndex(r.indexName()).
		OnHash().
		Prefix(r.refPrefix()).
		Tag(fieldDrugCategory, fieldDrugType).
		Numeric(fieldCreatedAt)
	if r.algorithm == db.VectorHNSW {
		b.VectorHNSW(fieldVector, r.dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct)
	} else {
		b.VectorFlat(fieldVector, r.dim, db.DistanceCosine)
	}
	return b.Build()
}
