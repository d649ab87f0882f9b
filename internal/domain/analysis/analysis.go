// Package analysis holds the per-image evidence report.
package analysis

import (
	"sort"

	"github.com/kailas-cloud/evidex/internal/domain/route"
)

// Unknown is reported when a classifier produced nothing or no classifier exists.
const Unknown = "Unknown"

// DetectionType is the overall verdict for an image.
type DetectionType string

const (
	// DetectionFirearm is reported when any firearm instance was found.
	DetectionFirearm DetectionType = "firearm"
	// DetectionNarcotic is reported when narcotics but no firearms were found.
	DetectionNarcotic DetectionType = "narcotic"
	// DetectionUnknown is reported otherwise.
	DetectionUnknown DetectionType = "unknown"
)

// Label is one classifier candidate.
type Label struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// TopK returns the k most probable classes, highest first. Ties keep class order.
func TopK(probs []float32, classes []string, k int) []Label {
	n := len(probs)
	if len(classes) < n {
		n = len(classes)
	}
	if k <= 0 || n == 0 {
		return []Label{}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	if k > n {
		k = n
	}

	out := make([]Label, k)
	for i := 0; i < k; i++ {
		out[i] = Label{Label: classes[idx[i]], Confidence: probs[idx[i]]}
	}
	return out
}

// Selected returns the best label or Unknown.
func Selected(labels []Label) string {
	if len(labels) == 0 {
		return Unknown
	}
	return labels[0].Label
}

// Firearm is the brand/model verdict for a firearm instance.
type Firearm struct {
	SelectedBrand string  `json:"selected_brand"`
	BrandTop3     []Label `json:"brand_top3"`
	SelectedModel string  `json:"selected_model"`
	ModelTop3     []Label `json:"model_top3"`
}

// Narcotic carries the embedding of a narcotic instance.
type Narcotic struct {
	DrugType   string    `json:"drug_type"`
	Dimensions int       `json:"dimensions"`
	Vector     []float32 `json:"-"`
}

// Object is one analysed instance.
type Object struct {
	Index      int            `json:"object_index"`
	Class      string         `json:"class"`
	Confidence float32        `json:"confidence"`
	Pipeline   route.Pipeline `json:"pipeline"`
	Note       string         `json:"note,omitempty"`
	Crop       []byte         `json:"-"`
	Firearm    *Firearm       `json:"firearm,omitempty"`
	Narcotic   *Narcotic      `json:"narcotic,omitempty"`
}

// Report is the full analysis of one image.
type Report struct {
	DetectionType DetectionType `json:"detection_type"`
	Objects       []Object      `json:"detected_objects"`
	Primary       []Object      `json:"primary_objects"`
	Secondary     []Object      `json:"secondary_objects"`
}

// NewReport derives the detection type and the primary/secondary split.
// Firearms win over narcotics; instances with no pipeline are secondary to either.
func NewReport(objects []Object) Report {
	var firearms, drugs, other []Object
	for _, o := range objects {
		switch o.Pipeline {
		case route.PipelineBrand:
			firearms = append(firearms, o)
		case route.PipelineDrug:
			drugs = append(drugs, o)
		default:
			other = append(other, o)
		}
	}

	r := Report{Objects: objects}
	switch {
	case len(firearms) > 0:
		r.DetectionType = DetectionFirearm
		r.Primary = firearms
		r.Secondary = other
	case len(drugs) > 0:
		r.DetectionType = DetectionNarcotic
		r.Primary = drugs
		r.Secondary = other
	default:
		r.DetectionType = DetectionUnknown
		r.Primary = other
	}
	if r.Objects == nil {
		r.Objects = []Object{}
	}
	if r.Primary == nil {
		r.Primary = []Object{}
	}
	if r.Secondary == nil {
		r.Secondary = []Object{}
	}
	return r
}
