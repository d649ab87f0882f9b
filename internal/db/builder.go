package db

import "fmt"

// IndexBuilder assembles an FT index over hashes field by field.
// Errors are deferred to Build so a definition reads as one chain.
type IndexBuilder struct {
	def IndexDefinition
	err error
}

// NewIndex starts a HASH index definition named name.
func NewIndex(name string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name, StorageType: StorageHash}}
}

// OnHash makes the storage type explicit.
func (b *IndexBuilder) OnHash() *IndexBuilder {
	b.def.StorageType = StorageHash
	return b
}

// Prefix limits the index to keys starting with one of prefixes.
func (b *IndexBuilder) Prefix(prefixes ...string) *IndexBuilder {
	b.def.Prefixes = append(b.def.Prefixes, prefixes...)
	return b
}

// Tag adds exact-match TAG fields.
func (b *IndexBuilder) Tag(names ...string) *IndexBuilder {
	for _, n := range names {
		b.def.Fields = append(b.def.Fields, IndexField{Name: n, Type: IndexFieldTag})
	}
	return b
}

// Numeric adds sortable NUMERIC fields.
func (b *IndexBuilder) Numeric(names ...string) *IndexBuilder {
	for _, n := range names {
		b.def.Fields = append(b.def.Fields, IndexField{Name: n, Type: IndexFieldNumeric})
	}
	return b
}

// VectorFlat adds a brute-force FLOAT32 vector field.
func (b *IndexBuilder) VectorFlat(name string, dim int, distance DistanceMetric) *IndexBuilder {
	return b.vector(IndexField{VectorAlgo: VectorFlat}, name, dim, distance)
}

// VectorHNSW adds an HNSW FLOAT32 vector field. Zero m or efConstruct keeps the server default.
func (b *IndexBuilder) VectorHNSW(name string, dim int, distance DistanceMetric, m, efConstruct int) *IndexBuilder {
	if m < 0 || efConstruct < 0 {
		b.setErr(fmt.Errorf("vector %s: negative HNSW parameters M=%d EF_CONSTRUCTION=%d", name, m, efConstruct))
	}
	return b.vector(IndexField{VectorAlgo: VectorHNSW, VectorM: m, VectorEFConstruct: efConstruct}, name, dim, distance)
}

func (b *IndexBuilder) vector(f IndexField, name string, dim int, distance DistanceMetric) *IndexBuilder {
	for _, existing := range b.def.Fields {
		if existing.Type == IndexFieldVector {
			b.setErr(fmt.Errorf("vector %s: index already has vector field %s", name, existing.Name))
		}
	}
	f.Name = name
	f.Type = IndexFieldVector
	f.VectorDim = dim
	f.VectorDistance = distance
	b.def.Fields = append(b.def.Fields, f)
	return b
}

func (b *IndexBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates and returns the definition.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if b.err != nil {
		return nil, fmt.Errorf("index %s: %w", b.def.Name, b.err)
	}
	if err := b.def.Validate(); err != nil {
		return nil, fmt.Errorf("index %s: %w", b.def.Name, err)
	}
	def := b.def
	return &def, nil
}
