package ports

import (
	"context"

	"github.com/bnema/crawlpool/internal/domain"
)

// PlatformWorker executes one attempt at one chunk. Failures should be
// reported as *domain.WorkerError so the scheduler can route them; any other
// error is treated as non-retryable.
type PlatformWorker interface {
	Execute(ctx context.Context, task domain.Task) ([]domain.Record, error)
}

// WorkerFactory resolves the worker for a platform.
type WorkerFactory interface {
	WorkerFor(platform domain.Platform) (PlatformWorker, error)
}
