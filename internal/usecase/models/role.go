package models

import (
	"path/filepath"
	"strings"
)

// Role names a model slot in the registry.
type Role string

// Critical roles gate service readiness.
const (
	RoleSegmentation Role = "segmentation"
	RoleBrand        Role = "brand"
	RoleNarcotic     Role = "narcotic"
)

const brandModelPrefix = "brand_model:"

// BrandModelRole returns the role of the per-brand model classifier.
func BrandModelRole(brand string) Role {
	return Role(brandModelPrefix + brand)
}

// Brand returns the brand of a brand_model role.
func (r Role) Brand() (string, bool) {
	if !strings.HasPrefix(string(r), brandModelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(r), brandModelPrefix), true
}

// State is the load state of a role.
type State string

// Role states. READY and FAILED are terminal.
const (
	StateUninitialized State = "UNINITIALIZED"
	StateLoading       State = "LOADING"
	StateReady         State = "READY"
	StateFailed        State = "FAILED"
)

var allStates = []State{StateUninitialized, StateLoading, StateReady, StateFailed}

// Kind selects the handle type a Loader builds.
type Kind int

// Handle kinds.
const (
	KindSegmenter Kind = iota
	KindClassifier
	KindExtractor
)

// Spec describes one model file and the role it fills.
type Spec struct {
	Role Role
	Kind Kind
	Path string
}

// Files locates model files on disk.
type Files struct {
	Dir               string
	Segmentation      string
	Brand             string
	Narcotic          string
	BrandModelPattern string // {brand} is replaced with the brand name
	Brands            []string
}

// Specs expands Files into critical and brand sub-model specs.
func Specs(f Files) (critical, brands []Spec) {
	critical = []Spec{
		{Role: RoleSegmentation, Kind: KindSegmenter, Path: f.path(f.Segmentation)},
		{Role: RoleBrand, Kind: KindClassifier, Path: f.path(f.Brand)},
		{Role: RoleNarcotic, Kind: KindExtractor, Path: f.path(f.Narcotic)},
	}
	for _, b := range f.Brands {
		brands = append(brands, Spec{
			Role: BrandModelRole(b),
			Kind: KindClassifier,
			Path: f.path(strings.ReplaceAll(f.BrandModelPattern, "{brand}", b)),
		})
	}
	return critical, brands
}

func (f Files) path(name string) string {
	if filepath.IsAbs(name) || f.Dir == "" {
		return name
	}
	return filepath.Join(f.Dir, name)
}
