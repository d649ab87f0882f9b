package health

import (
	"context"
	"time"

	"github.com/kailas-cloud/evidex/internal/usecase/models"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ModelRegistry is the read side of the model manager the readiness gate needs.
type ModelRegistry interface {
	IsReady() bool
	Status() map[models.Role]models.RoleStatus
	WaitForModels(ctx context.Context, timeout time.Duration) bool
	Warmup(ctx context.Context) (map[models.Role]time.Duration, error)
	Segmenter() (models.Segmenter, error)
}

// RouterValidator checks routed labels against the segmentation class table.
type RouterValidator interface {
	Validate(classTable map[int]string) error
}
