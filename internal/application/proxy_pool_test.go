package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/ports/mocks"
)

var fastBackoff = Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}

func newTestProxyPool(t *testing.T, source *sequentialSource, clock *fakeClock) *ProxyPool {
	t.Helper()

	pool, err := NewProxyPool(source, ProxyPoolConfig{
		SafetyMargin:    time.Minute,
		AcquireAttempts: 3,
		Backoff:         fastBackoff,
	}, clock)
	require.NoError(t, err)
	return pool
}

func TestNewProxyPoolValidatesCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewProxyPool(&sequentialSource{}, ProxyPoolConfig{
		Credentials: domain.VendorCredentials{Username: "kdl"},
	}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidVendorCredentials)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewProxyPool(nil, ProxyPoolConfig{}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestProxyPoolAcquireRentsAndReuses(t *testing.T) {
	t.Parallel()

	source := &sequentialSource{ttl: 300}
	clock := newFakeClock()
	pool := newTestProxyPool(t, source, clock)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8000", lease.Address)
	assert.Equal(t, baseTime.Add(300*time.Second), lease.ExpiresAt)
	assert.NotEmpty(t, lease.ID)
	assert.Equal(t, domain.PoolSnapshot{InUse: 1}, pool.Snapshot())

	require.NoError(t, pool.Release(lease))
	assert.Equal(t, domain.PoolSnapshot{Available: 1}, pool.Snapshot())

	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lease.ID, again.ID)
	assert.Equal(t, 1, source.Calls())
}

func TestProxyPoolAcquireNeverReturnsLeaseBelowMargin(t *testing.T) {
	t.Parallel()

	source := &sequentialSource{ttl: 90}
	clock := newFakeClock()
	pool := newTestProxyPool(t, source, clock)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Release(lease))

	// 89s left is still usable, 59s is not.
	clock.Advance(31 * time.Second)
	next, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, lease.ID, next.ID, "idle lease below the margin is pruned")
	assert.GreaterOrEqual(t, next.Remaining(clock.Now()), pool.SafetyMargin())
	assert.Equal(t, 1, pool.Snapshot().Expired)
}

func TestProxyPoolRejectsShortOffers(t *testing.T) {
	t.Parallel()

	source := &sequentialSource{ttl: 30}
	pool := newTestProxyPool(t, source, newFakeClock())

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrProxyExhausted)
	assert.ErrorContains(t, err, "below safety margin")
	assert.Equal(t, 3, source.Calls())
}

func TestProxyPoolRetriesSourceErrors(t *testing.T) {
	t.Parallel()

	flaky := errors.New("vendor returned 502")
	source := &sequentialSource{errs: []error{flaky, flaky}}
	pool := newTestProxyPool(t, source, newFakeClock())

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3:8000", lease.Address)

	exhausted := &sequentialSource{errs: []error{flaky, flaky, flaky}}
	pool = newTestProxyPool(t, exhausted, newFakeClock())
	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrProxyExhausted)
	assert.ErrorIs(t, err, flaky)
}

func TestProxyPoolConfigurationErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	source := mocks.NewMockProxySource(t)
	badKey := fmt.Errorf("%w: vendor rejected secret id", domain.ErrConfiguration)
	source.EXPECT().LeaseProxy(mockAnyContext(), domain.VendorCredentials{SecretID: "s", Signature: "sig"}).Return(domain.LeaseOffer{}, badKey).Once()

	pool, err := NewProxyPool(source, ProxyPoolConfig{
		Backoff:     fastBackoff,
		Credentials: domain.VendorCredentials{SecretID: "s", Signature: "sig"},
	}, newFakeClock())
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.NotErrorIs(t, err, domain.ErrProxyExhausted)
}

func TestProxyPoolDiscardedLeaseNeverReturned(t *testing.T) {
	t.Parallel()

	source := mocks.NewMockProxySource(t)
	source.EXPECT().LeaseProxy(mockAnyContext(), domain.VendorCredentials{}).Return(domain.LeaseOffer{Address: "10.0.0.1:8000", TTLSeconds: 120}, nil).Times(2)
	source.EXPECT().LeaseProxy(mockAnyContext(), domain.VendorCredentials{}).Return(domain.LeaseOffer{Address: "10.0.0.2:8000", TTLSeconds: 120}, nil).Once()

	clock := newFakeClock()
	pool, err := NewProxyPool(source, ProxyPoolConfig{Backoff: fastBackoff}, clock)
	require.NoError(t, err)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Discard(lease, string(domain.FailureProxyBanned)))

	next, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, lease.ID, next.ID)
	assert.Equal(t, "10.0.0.2:8000", next.Address, "blocked address offer counts as a failed attempt")

	assert.ErrorIs(t, pool.Release(lease), domain.ErrLeaseNotCheckedOut)
	assert.Equal(t, 1, pool.Snapshot().Discarded)
}

func TestProxyPoolDiscardBlockExpiresWithLease(t *testing.T) {
	t.Parallel()

	source := mocks.NewMockProxySource(t)
	source.EXPECT().LeaseProxy(mockAnyContext(), domain.VendorCredentials{}).Return(domain.LeaseOffer{Address: "10.0.0.1:8000", TTLSeconds: 120}, nil)

	clock := newFakeClock()
	pool, err := NewProxyPool(source, ProxyPoolConfig{Backoff: fastBackoff}, clock)
	require.NoError(t, err)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Discard(lease, "proxy_timeout"))

	clock.Advance(2 * time.Minute)
	reused, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lease.Address, reused.Address)
	assert.NotEqual(t, lease.ID, reused.ID)
}

func TestProxyPoolReleaseExpiredLeaseDropsIt(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestProxyPool(t, &sequentialSource{ttl: 120}, clock)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	require.NoError(t, pool.Release(lease))
	assert.Equal(t, domain.PoolSnapshot{Expired: 1}, pool.Snapshot())

	assert.ErrorIs(t, pool.Release(domain.ProxyLease{ID: "unknown"}), domain.ErrLeaseNotCheckedOut)
	assert.ErrorIs(t, pool.Discard(domain.ProxyLease{ID: "unknown"}, "x"), domain.ErrLeaseNotCheckedOut)
}

func TestProxyPoolSweepOnlyTouchesIdleLeases(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestProxyPool(t, &sequentialSource{ttl: 120}, clock)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Release(idle))

	assert.Zero(t, pool.Sweep())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, pool.Sweep())
	assert.Equal(t, domain.PoolSnapshot{InUse: 1, Expired: 1}, pool.Snapshot())

	require.NoError(t, pool.Release(held))
}

func TestProxyPoolStartStop(t *testing.T) {
	t.Parallel()

	pool, err := NewProxyPool(&sequentialSource{}, ProxyPoolConfig{
		SafetyMargin: 20 * time.Millisecond,
		Backoff:      fastBackoff,
	}, nil)
	require.NoError(t, err)

	pool.Start()
	pool.Start()
	time.Sleep(30 * time.Millisecond)
	pool.Stop()
	pool.Stop()
}

func TestProxyPoolWarm(t *testing.T) {
	t.Parallel()

	source := &sequentialSource{}
	pool := newTestProxyPool(t, source, newFakeClock())

	warmed, err := pool.Warm(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, warmed)
	assert.Equal(t, domain.PoolSnapshot{Available: 3}, pool.Snapshot())

	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, source.Calls(), "acquire served from warmed leases")
}

func TestProxyPoolConcurrentAcquireNeverSharesLeases(t *testing.T) {
	t.Parallel()

	pool := newTestProxyPool(t, &sequentialSource{}, newFakeClock())
	_, err := pool.Warm(context.Background(), 4)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[lease.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 16)
	for id, count := range seen {
		assert.Equal(t, 1, count, "lease %s handed out twice", id)
	}
}

func TestProxyPoolProxyURL(t *testing.T) {
	t.Parallel()

	pool, err := NewProxyPool(&sequentialSource{}, ProxyPoolConfig{
		Credentials: domain.VendorCredentials{Username: "kdl", Password: "pw"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://kdl:pw@10.0.0.9:8000", pool.ProxyURL(domain.ProxyLease{Address: "10.0.0.9:8000"}))
}

func TestProxyPoolAcquireHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := newTestProxyPool(t, &sequentialSource{}, newFakeClock())
	_, err := pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
