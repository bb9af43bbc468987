package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/metrics"
	"github.com/bnema/crawlpool/internal/ports"
)

const DefaultCoolingInterval = 5 * time.Minute

// AccountPool tracks the accounts of one platform. Pools are small, so
// selection is a linear scan in registration order.
type AccountPool struct {
	platform        domain.Platform
	coolingInterval time.Duration
	clock           ports.Clock
	log             zerolog.Logger

	mu       sync.Mutex
	accounts []*domain.Account
}

func NewAccountPool(platform domain.Platform, coolingInterval time.Duration, clock ports.Clock) *AccountPool {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if coolingInterval <= 0 {
		coolingInterval = DefaultCoolingInterval
	}

	return &AccountPool{
		platform:        platform,
		coolingInterval: coolingInterval,
		clock:           clock,
		log:             logger.WithComponent("AccountPool").With().Str("platform", string(platform)).Logger(),
	}
}

func (p *AccountPool) Platform() domain.Platform {
	return p.platform
}

func (p *AccountPool) Register(username, credentialRef string) (domain.Account, error) {
	username = strings.TrimSpace(username)
	account := domain.Account{
		Platform:      p.platform,
		Username:      username,
		CredentialRef: credentialRef,
		State:         domain.AccountAvailable,
		RegisteredAt:  p.clock.Now(),
	}
	if err := account.Validate(); err != nil {
		return domain.Account{}, fmt.Errorf("register account: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.findLocked(username) != nil {
		return domain.Account{}, fmt.Errorf("register %s/%s: %w", p.platform, username, domain.ErrDuplicateAccount)
	}
	p.accounts = append(p.accounts, &account)
	p.log.Info().Str("username", username).Msg("account registered")

	return account, nil
}

// Restore loads a persisted account. An account persisted while checked out
// comes back available.
func (p *AccountPool) Restore(account domain.Account) error {
	account.Platform = p.platform
	if account.State == "" || account.State == domain.AccountInUse {
		account.State = domain.AccountAvailable
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("restore account: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.findLocked(account.Username) != nil {
		return fmt.Errorf("restore %s/%s: %w", p.platform, account.Username, domain.ErrDuplicateAccount)
	}
	p.accounts = append(p.accounts, &account)

	return nil
}

// Checkout hands out the eligible account with the oldest LastUsedAt. Ties go
// to the account registered first.
func (p *AccountPool) Checkout() (domain.Account, error) {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var selected *domain.Account
	usable := 0
	for _, account := range p.accounts {
		if account.State == domain.AccountCoolingDown && account.Eligible(now) {
			account.State = domain.AccountAvailable
			account.CooldownUntil = time.Time{}
			metrics.AccountTransitions.WithLabelValues(string(p.platform), string(domain.AccountAvailable)).Inc()
		}
		if account.State != domain.AccountBanned {
			usable++
		}
		if account.State != domain.AccountAvailable {
			continue
		}
		if selected == nil || account.LastUsedAt.Before(selected.LastUsedAt) {
			selected = account
		}
	}

	if selected == nil {
		if usable == 0 {
			return domain.Account{}, fmt.Errorf("checkout %s account: %w", p.platform, domain.ErrAccountsExhausted)
		}
		return domain.Account{}, fmt.Errorf("checkout %s account: %w", p.platform, domain.ErrNoAccountAvailable)
	}

	selected.State = domain.AccountInUse
	metrics.AccountCheckouts.WithLabelValues(string(p.platform)).Inc()
	p.log.Debug().Str("username", selected.Username).Msg("account checked out")

	return *selected, nil
}

func (p *AccountPool) Checkin(username string, outcome domain.CheckinOutcome) error {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	account := p.findLocked(username)
	if account == nil {
		return fmt.Errorf("checkin %s/%s: %w", p.platform, username, domain.ErrAccountNotFound)
	}

	wasInUse := account.State == domain.AccountInUse
	account.LastUsedAt = now
	if wasInUse {
		account.TaskCount++
	}

	switch outcome {
	case domain.CheckinSuccess:
		if wasInUse {
			account.State = domain.AccountAvailable
		}
	case domain.CheckinRateLimited:
		if account.State == domain.AccountBanned {
			break
		}
		account.State = domain.AccountCoolingDown
		account.CooldownUntil = now.Add(p.coolingInterval)
		p.log.Warn().Str("username", username).Time("cooldown_until", account.CooldownUntil).Msg("account cooling down")
	case domain.CheckinBanned:
		account.State = domain.AccountBanned
		account.CooldownUntil = time.Time{}
		p.log.Warn().Str("username", username).Msg("account banned")
	default:
		return fmt.Errorf("checkin %s/%s: unsupported outcome %q", p.platform, username, outcome)
	}
	metrics.AccountTransitions.WithLabelValues(string(p.platform), string(account.State)).Inc()

	return nil
}

func (p *AccountPool) Remove(username string) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, account := range p.accounts {
		if account.Username != username {
			continue
		}
		if account.State == domain.AccountInUse {
			return domain.Account{}, fmt.Errorf("remove %s/%s: %w", p.platform, username, domain.ErrAccountInUse)
		}
		p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
		p.log.Info().Str("username", username).Msg("account removed")
		return *account, nil
	}

	return domain.Account{}, fmt.Errorf("remove %s/%s: %w", p.platform, username, domain.ErrAccountNotFound)
}

// Unban returns a banned or cooling down account to service.
func (p *AccountPool) Unban(username string) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account := p.findLocked(username)
	if account == nil {
		return domain.Account{}, fmt.Errorf("unban %s/%s: %w", p.platform, username, domain.ErrAccountNotFound)
	}
	if account.State == domain.AccountInUse {
		return domain.Account{}, fmt.Errorf("unban %s/%s: %w", p.platform, username, domain.ErrAccountInUse)
	}

	account.State = domain.AccountAvailable
	account.CooldownUntil = time.Time{}
	metrics.AccountTransitions.WithLabelValues(string(p.platform), string(account.State)).Inc()

	return *account, nil
}

func (p *AccountPool) Get(username string) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account := p.findLocked(username)
	if account == nil {
		return domain.Account{}, fmt.Errorf("get %s/%s: %w", p.platform, username, domain.ErrAccountNotFound)
	}

	return *account, nil
}

func (p *AccountPool) Snapshot() domain.AccountPoolSnapshot {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := domain.AccountPoolSnapshot{
		Platform: p.platform,
		Accounts: make([]domain.Account, 0, len(p.accounts)),
	}
	for _, account := range p.accounts {
		copied := *account
		if copied.State == domain.AccountCoolingDown && copied.Eligible(now) {
			copied.State = domain.AccountAvailable
			copied.CooldownUntil = time.Time{}
		}

		switch copied.State {
		case domain.AccountAvailable:
			snapshot.Available++
		case domain.AccountInUse:
			snapshot.InUse++
		case domain.AccountCoolingDown:
			snapshot.CoolingDown++
		case domain.AccountBanned:
			snapshot.Banned++
		}
		snapshot.Accounts = append(snapshot.Accounts, copied)
	}

	return snapshot
}

func (p *AccountPool) findLocked(username string) *domain.Account {
	for _, account := range p.accounts {
		if account.Username == username {
			return account
		}
	}
	return nil
}

// AccountRegistry maps platforms to their pools. Its lock only guards the
// map; pool operations run under the pool's own lock.
type AccountRegistry struct {
	coolingInterval time.Duration
	clock           ports.Clock

	mu    sync.RWMutex
	pools map[domain.Platform]*AccountPool
}

func NewAccountRegistry(coolingInterval time.Duration, clock ports.Clock) *AccountRegistry {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &AccountRegistry{
		coolingInterval: coolingInterval,
		clock:           clock,
		pools:           make(map[domain.Platform]*AccountPool),
	}
}

// Pool returns the pool for platform, or nil when no account was ever
// registered for it.
func (r *AccountRegistry) Pool(platform domain.Platform) *AccountPool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.pools[platform]
}

func (r *AccountRegistry) PoolFor(platform domain.Platform) (*AccountPool, error) {
	if err := platform.Validate(); err != nil {
		return nil, err
	}

	if pool := r.Pool(platform); pool != nil {
		return pool, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[platform]; ok {
		return pool, nil
	}
	pool := NewAccountPool(platform, r.coolingInterval, r.clock)
	r.pools[platform] = pool

	return pool, nil
}

func (r *AccountRegistry) Register(platform domain.Platform, username, credentialRef string) (domain.Account, error) {
	pool, err := r.PoolFor(platform)
	if err != nil {
		return domain.Account{}, fmt.Errorf("register account: %w", err)
	}

	return pool.Register(username, credentialRef)
}

func (r *AccountRegistry) Restore(account domain.Account) error {
	pool, err := r.PoolFor(account.Platform)
	if err != nil {
		return fmt.Errorf("restore account: %w", err)
	}

	return pool.Restore(account)
}

func (r *AccountRegistry) lookup(platform domain.Platform, username string) (*AccountPool, error) {
	pool := r.Pool(platform)
	if pool == nil {
		return nil, fmt.Errorf("%s/%s: %w", platform, username, domain.ErrAccountNotFound)
	}
	return pool, nil
}

func (r *AccountRegistry) Get(platform domain.Platform, username string) (domain.Account, error) {
	pool, err := r.lookup(platform, username)
	if err != nil {
		return domain.Account{}, err
	}
	return pool.Get(username)
}

func (r *AccountRegistry) Remove(platform domain.Platform, username string) (domain.Account, error) {
	pool, err := r.lookup(platform, username)
	if err != nil {
		return domain.Account{}, err
	}
	return pool.Remove(username)
}

func (r *AccountRegistry) Unban(platform domain.Platform, username string) (domain.Account, error) {
	pool, err := r.lookup(platform, username)
	if err != nil {
		return domain.Account{}, err
	}
	return pool.Unban(username)
}

// Snapshots returns one snapshot per known platform, sorted by platform.
func (r *AccountRegistry) Snapshots() []domain.AccountPoolSnapshot {
	r.mu.RLock()
	pools := make([]*AccountPool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}
	r.mu.RUnlock()

	sort.Slice(pools, func(i, j int) bool { return pools[i].platform < pools[j].platform })

	snapshots := make([]domain.AccountPoolSnapshot, 0, len(pools))
	for _, pool := range pools {
		snapshots = append(snapshots, pool.Snapshot())
	}

	return snapshots
}

func isAccountShortage(err error) bool {
	return errors.Is(err, domain.ErrNoAccountAvailable) && !errors.Is(err, domain.ErrAccountsExhausted)
}
