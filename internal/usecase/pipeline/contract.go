package pipeline

import "github.com/kailas-cloud/evidex/internal/usecase/models"

// ModelSource hands out borrowed model handles. Getters fail with domain.ErrModelUnavailable
// while a role is not READY.
type ModelSource interface {
	Segmenter() (models.Segmenter, error)
	Extractor() (models.Extractor, error)
}
