package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/metrics"
	"github.com/bnema/crawlpool/internal/ports"
)

const (
	DefaultSafetyMargin    = time.Minute
	DefaultAcquireAttempts = 3
)

type ProxyPoolConfig struct {
	SafetyMargin    time.Duration
	AcquireAttempts int
	Backoff         Backoff
	Credentials     domain.VendorCredentials
}

func (c ProxyPoolConfig) withDefaults() ProxyPoolConfig {
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.AcquireAttempts <= 0 {
		c.AcquireAttempts = DefaultAcquireAttempts
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// ProxyPool rents short-lived proxy leases from a ProxySource and hands each
// one to a single task at a time. Idle leases are reused while they keep at
// least SafetyMargin of TTL.
type ProxyPool struct {
	source ports.ProxySource
	cfg    ProxyPoolConfig
	clock  ports.Clock
	log    zerolog.Logger

	mu         sync.Mutex
	idle       []domain.ProxyLease
	checkedOut map[string]domain.ProxyLease
	blocked    map[string]time.Time
	expired    int
	discarded  int

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

func NewProxyPool(source ports.ProxySource, cfg ProxyPoolConfig, clock ports.Clock) (*ProxyPool, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: proxy source is required", domain.ErrConfiguration)
	}
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, fmt.Errorf("new proxy pool: %w", err)
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &ProxyPool{
		source:     source,
		cfg:        cfg.withDefaults(),
		clock:      clock,
		log:        logger.WithComponent("ProxyPool"),
		checkedOut: make(map[string]domain.ProxyLease),
		blocked:    make(map[string]time.Time),
		stopChan:   make(chan struct{}),
	}, nil
}

func (p *ProxyPool) SafetyMargin() time.Duration {
	return p.cfg.SafetyMargin
}

// ProxyURL renders the lease as an http proxy URL with the vendor credentials.
func (p *ProxyPool) ProxyURL(lease domain.ProxyLease) string {
	return p.cfg.Credentials.ProxyURL(lease.Address)
}

// Acquire returns a lease with at least SafetyMargin of TTL left, reusing an
// idle lease when one qualifies and renting a new one otherwise.
func (p *ProxyPool) Acquire(ctx context.Context) (domain.ProxyLease, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProxyLease{}, err
	}

	if lease, ok := p.takeIdle(); ok {
		metrics.ProxyLeasesAcquired.WithLabelValues("idle").Inc()
		return lease, nil
	}

	lease, err := p.rent(ctx)
	if err != nil {
		return domain.ProxyLease{}, err
	}
	metrics.ProxyLeasesAcquired.WithLabelValues("source").Inc()

	return lease, nil
}

// rent asks the source for a new lease, retrying with backoff. The pool lock
// is not held while the source is called.
func (p *ProxyPool) rent(ctx context.Context) (domain.ProxyLease, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.AcquireAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.cfg.Backoff.Delay(attempt-1)); err != nil {
				return domain.ProxyLease{}, err
			}
		}

		offer, err := p.source.LeaseProxy(ctx, p.cfg.Credentials)
		if err != nil {
			if errors.Is(err, domain.ErrConfiguration) {
				return domain.ProxyLease{}, fmt.Errorf("lease proxy: %w", err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.ProxyLease{}, ctxErr
			}
			lastErr = err
			p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("proxy source failed")
			continue
		}

		lease, err := p.admit(offer)
		if err != nil {
			lastErr = err
			p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("proxy offer rejected")
			continue
		}

		p.log.Debug().Str("lease_id", lease.ID).Str("address", lease.Address).Time("expires_at", lease.ExpiresAt).Msg("lease acquired")
		return lease, nil
	}

	return domain.ProxyLease{}, fmt.Errorf("%w after %d attempts: %w", domain.ErrProxyExhausted, p.cfg.AcquireAttempts, lastErr)
}

func (p *ProxyPool) admit(offer domain.LeaseOffer) (domain.ProxyLease, error) {
	if err := offer.Validate(); err != nil {
		return domain.ProxyLease{}, err
	}
	ttl := time.Duration(offer.TTLSeconds) * time.Second
	if ttl < p.cfg.SafetyMargin {
		return domain.ProxyLease{}, fmt.Errorf("lease for %s has ttl %s below safety margin %s", offer.Address, ttl, p.cfg.SafetyMargin)
	}

	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneBlockedLocked(now)
	if until, ok := p.blocked[offer.Address]; ok {
		return domain.ProxyLease{}, fmt.Errorf("address %s was discarded until %s", offer.Address, until.Format(time.RFC3339))
	}

	lease := domain.ProxyLease{
		ID:         uuid.NewString(),
		Address:    offer.Address,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	p.checkedOut[lease.ID] = lease
	p.updateGaugesLocked()

	return lease, nil
}

func (p *ProxyPool) takeIdle() (domain.ProxyLease, bool) {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.idle) > 0 {
		lease := p.idle[0]
		p.idle = p.idle[1:]
		if !lease.Usable(now, p.cfg.SafetyMargin) {
			p.expired++
			metrics.ProxyLeasesExpired.Inc()
			continue
		}

		p.checkedOut[lease.ID] = lease
		p.updateGaugesLocked()
		return lease, true
	}
	p.updateGaugesLocked()

	return domain.ProxyLease{}, false
}

// Release hands a checked-out lease back for reuse. Expired leases are dropped.
func (p *ProxyPool) Release(lease domain.ProxyLease) error {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.checkedOut[lease.ID]
	if !ok {
		return fmt.Errorf("release lease %s: %w", lease.ID, domain.ErrLeaseNotCheckedOut)
	}
	delete(p.checkedOut, lease.ID)

	if stored.Expired(now) {
		p.expired++
		metrics.ProxyLeasesExpired.Inc()
	} else {
		p.idle = append(p.idle, stored)
	}
	p.updateGaugesLocked()

	return nil
}

// Discard drops a lease for good and refuses its address until the lease
// would have expired.
func (p *ProxyPool) Discard(lease domain.ProxyLease, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.checkedOut[lease.ID]
	if ok {
		delete(p.checkedOut, lease.ID)
	} else {
		idx := -1
		for i, idle := range p.idle {
			if idle.ID == lease.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("discard lease %s: %w", lease.ID, domain.ErrLeaseNotCheckedOut)
		}
		stored = p.idle[idx]
		p.idle = append(p.idle[:idx], p.idle[idx+1:]...)
	}

	if until, exists := p.blocked[stored.Address]; !exists || stored.ExpiresAt.After(until) {
		p.blocked[stored.Address] = stored.ExpiresAt
	}
	p.discarded++
	metrics.ProxyLeasesDiscarded.WithLabelValues(reason).Inc()
	p.updateGaugesLocked()
	p.log.Info().Str("lease_id", stored.ID).Str("address", stored.Address).Str("reason", reason).Msg("lease discarded")

	return nil
}

// Sweep evicts idle leases whose TTL has run out and returns how many it
// removed. Checked-out leases are left to their holders.
func (p *ProxyPool) Sweep() int {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.idle[:0]
	evicted := 0
	for _, lease := range p.idle {
		if lease.Expired(now) {
			evicted++
			continue
		}
		kept = append(kept, lease)
	}
	p.idle = kept
	p.expired += evicted
	metrics.ProxyLeasesExpired.Add(float64(evicted))
	p.pruneBlockedLocked(now)
	p.updateGaugesLocked()

	if evicted > 0 {
		p.log.Debug().Int("evicted", evicted).Msg("swept expired leases")
	}

	return evicted
}

// Start runs Sweep every SafetyMargin/2 until Stop is called.
func (p *ProxyPool) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	interval := p.cfg.SafetyMargin / 2
	if interval <= 0 {
		interval = time.Second
	}

	p.wg.Add(1)
	go p.sweepLoop(interval)
	p.log.Info().Dur("interval", interval).Msg("lease sweeper started")
}

func (p *ProxyPool) sweepLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.stopChan:
			return
		}
	}
}

func (p *ProxyPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
}

// Warm rents up to n leases ahead of demand and parks them in the idle set.
func (p *ProxyPool) Warm(ctx context.Context, n int) (int, error) {
	warmed := 0
	for warmed < n {
		lease, err := p.rent(ctx)
		if err != nil {
			return warmed, fmt.Errorf("warm proxy pool: %w", err)
		}
		if err := p.Release(lease); err != nil {
			return warmed, fmt.Errorf("warm proxy pool: %w", err)
		}
		warmed++
	}

	if warmed > 0 {
		p.log.Info().Int("leases", warmed).Msg("proxy pool warmed")
	}

	return warmed, nil
}

func (p *ProxyPool) Snapshot() domain.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return domain.PoolSnapshot{
		Available: len(p.idle),
		InUse:     len(p.checkedOut),
		Expired:   p.expired,
		Discarded: p.discarded,
	}
}

func (p *ProxyPool) pruneBlockedLocked(now time.Time) {
	for address, until := range p.blocked {
		if !now.Before(until) {
			delete(p.blocked, address)
		}
	}
}

func (p *ProxyPool) updateGaugesLocked() {
	metrics.ProxyLeasesIdle.Set(float64(len(p.idle)))
	metrics.ProxyLeasesInUse.Set(float64(len(p.checkedOut)))
}
