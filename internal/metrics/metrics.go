// Package metrics exposes Prometheus collectors for the proxy pool, the
// account pools and the scheduler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crawlpool"

// ─── Proxy pool ─────────────────────────────────────────────────────────────

var ProxyLeasesAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "proxy_leases_acquired_total",
	Help:      "Leases handed to tasks, by origin (idle or source).",
}, []string{"source"})

var ProxyLeasesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "proxy_leases_discarded_total",
	Help:      "Leases removed permanently, by reason.",
}, []string{"reason"})

var ProxyLeasesExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "proxy_leases_expired_total",
	Help:      "Leases dropped because their TTL ran out.",
})

var ProxyLeasesIdle = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "proxy_leases_idle",
	Help:      "Leases waiting in the idle set.",
})

var ProxyLeasesInUse = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "proxy_leases_in_use",
	Help:      "Leases currently checked out by tasks.",
})

// ─── Accounts ───────────────────────────────────────────────────────────────

var AccountCheckouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "account_checkouts_total",
	Help:      "Accounts checked out for a task.",
}, []string{"platform"})

var AccountTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "account_transitions_total",
	Help:      "Account state changes, by resulting state.",
}, []string{"platform", "state"})

// ─── Scheduler ──────────────────────────────────────────────────────────────

var ChunksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "chunks_completed_total",
	Help:      "Chunks that reached a terminal state, by outcome.",
}, []string{"platform", "kind", "outcome"})

var ChunkAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "chunk_attempts",
	Help:      "Worker attempts spent per chunk.",
	Buckets:   []float64{1, 2, 3, 4, 5, 8},
})

var RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "run_duration_seconds",
	Help:      "Wall time of a scheduler run.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

var UnitsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "units_active",
	Help:      "Chunk units currently holding an admission slot.",
})

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
