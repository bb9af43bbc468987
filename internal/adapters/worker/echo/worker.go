package echo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/ports"
)

// FailPrefix marks an item that fails its first attempt with the named
// failure kind, e.g. "fail:rate_limited:golang". Later attempts succeed, which
// lets a dry run exercise the retry paths.
const FailPrefix = "fail:"

// Worker is a dry-run PlatformWorker. It scrapes nothing and returns one
// record per item describing the assignment it received.
type Worker struct {
	platform domain.Platform
	latency  time.Duration
}

var _ ports.PlatformWorker = (*Worker)(nil)

func NewWorker(platform domain.Platform, latency time.Duration) *Worker {
	return &Worker{platform: platform, latency: latency}
}

func (w *Worker) Execute(ctx context.Context, task domain.Task) ([]domain.Record, error) {
	if w.latency > 0 {
		timer := time.NewTimer(w.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	records := make([]domain.Record, 0, len(task.Chunk.Items))
	for _, item := range task.Chunk.Items {
		kind, value, injected := parseInjectedFailure(item)
		if injected && task.Attempt == 1 {
			return nil, domain.NewWorkerError(kind, fmt.Sprintf("injected failure for %q", value))
		}

		records = append(records, domain.Record{
			"platform": string(w.platform),
			"kind":     string(task.Job.Kind),
			"item":     value,
			"chunk":    task.Chunk.Index,
			"account":  task.Account.Username,
			"proxy":    task.ProxyAddress,
			"attempt":  task.Attempt,
		})
	}

	return records, nil
}

func parseInjectedFailure(item string) (domain.FailureKind, string, bool) {
	rest, ok := strings.CutPrefix(item, FailPrefix)
	if !ok {
		return "", item, false
	}
	kind, value, ok := strings.Cut(rest, ":")
	if !ok || kind == "" {
		return "", item, false
	}

	return domain.FailureKind(kind), value, true
}

// Factory serves an echo worker for every supported platform.
type Factory struct {
	latency time.Duration
}

var _ ports.WorkerFactory = (*Factory)(nil)

func NewFactory(latency time.Duration) *Factory {
	return &Factory{latency: latency}
}

func (f *Factory) WorkerFor(platform domain.Platform) (ports.PlatformWorker, error) {
	if err := platform.Validate(); err != nil {
		return nil, err
	}

	return NewWorker(platform, f.latency), nil
}
