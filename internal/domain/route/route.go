// Package route decides which downstream pipeline handles a segmented instance.
package route

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// Pipeline names a downstream pipeline.
type Pipeline string

const (
	// PipelineBrand runs brand then model classification.
	PipelineBrand Pipeline = "brand"
	// PipelineDrug runs feature extraction for similarity search.
	PipelineDrug Pipeline = "drug"
	// PipelineNone runs nothing further.
	PipelineNone Pipeline = "none"
)

// Decision is the routing outcome for one label. Exactly one of Brand, Drug, None.
type Decision interface {
	Pipeline() Pipeline
	isDecision()
}

// Brand routes to the brand/model classifiers.
type Brand struct{}

// Drug routes to feature extraction.
type Drug struct{}

// None stops processing; Note explains why.
type None struct {
	Note string
}

// Pipeline implements Decision.
func (Brand) Pipeline() Pipeline { return PipelineBrand }

// Pipeline implements Decision.
func (Drug) Pipeline() Pipeline { return PipelineDrug }

// Pipeline implements Decision.
func (None) Pipeline() Pipeline { return PipelineNone }

func (Brand) isDecision() {}
func (Drug) isDecision()  {}
func (None) isDecision()  {}

// Default vocabularies matching the segmentation model's label space.
var (
	DefaultFirearmLabels = []string{"BigGun", "Pistol", "Revolver"}
	DefaultDrugLabels    = []string{"Drug", "PackageDrug"}
)

// Router maps class labels to pipelines.
type Router struct {
	table map[string]Pipeline
}

// New builds a router from explicit label sets. A label present in both sets is rejected.
func New(firearmLabels, drugLabels []string) (*Router, error) {
	table := make(map[string]Pipeline, len(firearmLabels)+len(drugLabels))
	for _, l := range firearmLabels {
		table[l] = PipelineBrand
	}
	for _, l := range drugLabels {
		if p, ok := table[l]; ok && p != PipelineDrug {
			return nil, fmt.Errorf("%w: label %q routed to both brand and drug", domain.ErrRouterVocabulary, l)
		}
		table[l] = PipelineDrug
	}
	return &Router{table: table}, nil
}

// NewDefault builds a router with the default vocabularies.
func NewDefault() *Router {
	r, _ := New(DefaultFirearmLabels, DefaultDrugLabels)
	return r
}

// Route returns the decision for a label. Unknown labels route to None.
func (r *Router) Route(label string) Decision {
	switch r.table[label] {
	case PipelineBrand:
		return Brand{}
	case PipelineDrug:
		return Drug{}
	default:
		return None{Note: fmt.Sprintf("no classifier for class %s", label)}
	}
}

// Labels returns every routed label, sorted.
func (r *Router) Labels() []string {
	out := make([]string, 0, len(r.table))
	for l := range r.table {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every routed label exists in the segmentation model's class table.
func (r *Router) Validate(classTable map[int]string) error {
	known := make(map[string]struct{}, len(classTable))
	for _, name := range classTable {
		known[name] = struct{}{}
	}

	var missing []string
	for _, l := range r.Labels() {
		if _, ok := known[l]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: labels not in model class table: %s",
			domain.ErrRouterVocabulary, strings.Join(missing, ", "))
	}
	return nil
}
