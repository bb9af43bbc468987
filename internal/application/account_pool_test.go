package application

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/crawlpool/internal/domain"
)

func newTestAccountPool(t *testing.T, clock *fakeClock, usernames ...string) *AccountPool {
	t.Helper()

	pool := NewAccountPool(domain.PlatformWeibo, time.Minute, clock)
	for _, username := range usernames {
		_, err := pool.Register(username, domain.CredentialRefFor(domain.PlatformWeibo, username))
		require.NoError(t, err)
	}
	return pool
}

func TestAccountPoolRegister(t *testing.T) {
	t.Parallel()

	pool := newTestAccountPool(t, newFakeClock(), "alice")

	_, err := pool.Register("alice", "ref")
	assert.ErrorIs(t, err, domain.ErrDuplicateAccount)

	_, err = pool.Register("  ", "ref")
	assert.ErrorContains(t, err, "username is required")

	account, err := pool.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountAvailable, account.State)
	assert.Equal(t, "weibo/alice/password", account.CredentialRef)
	assert.Equal(t, baseTime, account.RegisteredAt)
}

func TestAccountPoolCheckoutPicksLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestAccountPool(t, clock, "a", "b", "c")

	first, err := pool.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "a", first.Username, "ties go to registration order")

	clock.Advance(time.Second)
	require.NoError(t, pool.Checkin("a", domain.CheckinSuccess))

	second, err := pool.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "b", second.Username)

	third, err := pool.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "c", third.Username)

	fourth, err := pool.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "a", fourth.Username)

	_, err = pool.Checkout()
	assert.ErrorIs(t, err, domain.ErrNoAccountAvailable)
	assert.NotErrorIs(t, err, domain.ErrAccountsExhausted)
}

func TestAccountPoolCheckoutSkipsBannedAndCoolingDown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestAccountPool(t, clock, "banned", "cooling", "ok")

	for range 2 {
		_, err := pool.Checkout()
		require.NoError(t, err)
	}
	require.NoError(t, pool.Checkin("banned", domain.CheckinBanned))
	require.NoError(t, pool.Checkin("cooling", domain.CheckinRateLimited))

	account, err := pool.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "ok", account.Username)
	require.NoError(t, pool.Checkin("ok", domain.CheckinSuccess))

	clock.Advance(time.Minute)
	next, err := pool.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "cooling", next.Username, "cool-down elapsed and cooling was used before ok")
}

func TestAccountPoolExhausted(t *testing.T) {
	t.Parallel()

	empty := newTestAccountPool(t, newFakeClock())
	_, err := empty.Checkout()
	assert.ErrorIs(t, err, domain.ErrAccountsExhausted)
	assert.ErrorIs(t, err, domain.ErrNoAccountAvailable)

	pool := newTestAccountPool(t, newFakeClock(), "a", "b")
	for range 2 {
		account, err := pool.Checkout()
		require.NoError(t, err)
		require.NoError(t, pool.Checkin(account.Username, domain.CheckinBanned))
	}

	_, err = pool.Checkout()
	assert.ErrorIs(t, err, domain.ErrAccountsExhausted)
}

func TestAccountPoolCheckinSuccessIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestAccountPool(t, clock, "alice")

	_, err := pool.Checkout()
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, pool.Checkin("alice", domain.CheckinSuccess))
	first, err := pool.Get("alice")
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, pool.Checkin("alice", domain.CheckinSuccess))
	second, err := pool.Get("alice")
	require.NoError(t, err)

	assert.Equal(t, domain.AccountAvailable, first.State)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, 1, second.TaskCount)
	assert.Equal(t, baseTime.Add(2*time.Second), second.LastUsedAt)
	assert.True(t, second.LastUsedAt.After(first.LastUsedAt))
}

func TestAccountPoolCheckinTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		outcome   domain.CheckinOutcome
		wantState domain.AccountState
		cooldown  bool
	}{
		{name: "success", outcome: domain.CheckinSuccess, wantState: domain.AccountAvailable},
		{name: "rate limited", outcome: domain.CheckinRateLimited, wantState: domain.AccountCoolingDown, cooldown: true},
		{name: "banned", outcome: domain.CheckinBanned, wantState: domain.AccountBanned},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pool := newTestAccountPool(t, newFakeClock(), "alice")
			_, err := pool.Checkout()
			require.NoError(t, err)
			require.NoError(t, pool.Checkin("alice", tc.outcome))

			account, err := pool.Get("alice")
			require.NoError(t, err)
			assert.Equal(t, tc.wantState, account.State)
			if tc.cooldown {
				assert.Equal(t, baseTime.Add(time.Minute), account.CooldownUntil)
			} else {
				assert.True(t, account.CooldownUntil.IsZero())
			}
		})
	}
}

func TestAccountPoolBanIsPermanent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestAccountPool(t, clock, "alice")
	_, err := pool.Checkout()
	require.NoError(t, err)
	require.NoError(t, pool.Checkin("alice", domain.CheckinBanned))
	require.NoError(t, pool.Checkin("alice", domain.CheckinRateLimited))
	require.NoError(t, pool.Checkin("alice", domain.CheckinSuccess))

	clock.Advance(24 * time.Hour)
	account, err := pool.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountBanned, account.State)

	_, err = pool.Checkout()
	assert.ErrorIs(t, err, domain.ErrAccountsExhausted)
}

func TestAccountPoolCheckinUnknownAccount(t *testing.T) {
	t.Parallel()

	pool := newTestAccountPool(t, newFakeClock())
	assert.ErrorIs(t, pool.Checkin("ghost", domain.CheckinSuccess), domain.ErrAccountNotFound)
}

func TestAccountPoolConcurrentCheckoutNeverSharesAccounts(t *testing.T) {
	t.Parallel()

	usernames := make([]string, 8)
	for i := range usernames {
		usernames[i] = fmt.Sprintf("user-%d", i)
	}
	pool := newTestAccountPool(t, newFakeClock(), usernames...)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, err := pool.Checkout()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrNoAccountAvailable)
				return
			}
			mu.Lock()
			seen[account.Username]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, len(usernames))
	for username, count := range seen {
		assert.Equal(t, 1, count, "account %s handed out twice", username)
	}
	assert.Equal(t, len(usernames), pool.Snapshot().InUse)
}

func TestAccountPoolRemoveAndUnban(t *testing.T) {
	t.Parallel()

	pool := newTestAccountPool(t, newFakeClock(), "alice", "bob")

	_, err := pool.Checkout()
	require.NoError(t, err)
	_, err = pool.Remove("alice")
	assert.ErrorIs(t, err, domain.ErrAccountInUse)

	require.NoError(t, pool.Checkin("alice", domain.CheckinBanned))
	unbanned, err := pool.Unban("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountAvailable, unbanned.State)

	removed, err := pool.Remove("bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", removed.Username)
	_, err = pool.Remove("bob")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.Equal(t, 1, pool.Snapshot().Total())
}

func TestAccountPoolRestore(t *testing.T) {
	t.Parallel()

	pool := newTestAccountPool(t, newFakeClock())
	require.NoError(t, pool.Restore(domain.Account{Username: "alice", State: domain.AccountInUse, TaskCount: 4}))
	require.NoError(t, pool.Restore(domain.Account{Username: "bob", State: domain.AccountBanned}))
	assert.ErrorIs(t, pool.Restore(domain.Account{Username: "bob"}), domain.ErrDuplicateAccount)

	snapshot := pool.Snapshot()
	assert.Equal(t, 1, snapshot.Available)
	assert.Equal(t, 1, snapshot.Banned)
	assert.Equal(t, 4, snapshot.Accounts[0].TaskCount)
	assert.Equal(t, domain.PlatformWeibo, snapshot.Accounts[0].Platform)
}

func TestAccountPoolSnapshotReportsElapsedCooldownAsAvailable(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := newTestAccountPool(t, clock, "alice")
	_, err := pool.Checkout()
	require.NoError(t, err)
	require.NoError(t, pool.Checkin("alice", domain.CheckinRateLimited))
	assert.Equal(t, 1, pool.Snapshot().CoolingDown)

	clock.Advance(time.Minute)
	snapshot := pool.Snapshot()
	assert.Equal(t, 1, snapshot.Available)
	assert.Zero(t, snapshot.CoolingDown)
}

func TestAccountRegistry(t *testing.T) {
	t.Parallel()

	registry := NewAccountRegistry(time.Minute, newFakeClock())

	assert.Nil(t, registry.Pool(domain.PlatformZhihu))
	_, err := registry.Register("myspace", "alice", "ref")
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)

	_, err = registry.Register(domain.PlatformZhihu, "alice", "zhihu/alice/password")
	require.NoError(t, err)
	_, err = registry.Register(domain.PlatformBilibili, "alice", "bilibili/alice/password")
	require.NoError(t, err, "usernames are scoped per platform")

	snapshots := registry.Snapshots()
	require.Len(t, snapshots, 2)
	assert.Equal(t, domain.PlatformBilibili, snapshots[0].Platform)
	assert.Equal(t, domain.PlatformZhihu, snapshots[1].Platform)

	_, err = registry.Get(domain.PlatformWeibo, "alice")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = registry.Unban(domain.PlatformZhihu, "alice")
	require.NoError(t, err)
	_, err = registry.Remove(domain.PlatformZhihu, "alice")
	require.NoError(t, err)
}
