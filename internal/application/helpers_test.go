package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/crawlpool/internal/domain"
)

var baseTime = time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time {
	return f.now
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: baseTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mockAnyContext() any {
	return mock.Anything
}

// sequentialSource hands out a fresh address on every call.
type sequentialSource struct {
	mu    sync.Mutex
	ttl   int
	calls int
	errs  []error
}

func (s *sequentialSource) LeaseProxy(ctx context.Context, _ domain.VendorCredentials) (domain.LeaseOffer, error) {
	if err := ctx.Err(); err != nil {
		return domain.LeaseOffer{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.LeaseOffer{}, err
		}
	}
	ttl := s.ttl
	if ttl == 0 {
		ttl = 300
	}

	return domain.LeaseOffer{Address: fmt.Sprintf("10.0.0.%d:8000", s.calls), TTLSeconds: ttl}, nil
}

func (s *sequentialSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type inMemoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	saveErr  error
}

func newInMemoryAccountRepo(accounts ...domain.Account) *inMemoryAccountRepo {
	repo := &inMemoryAccountRepo{accounts: make(map[string]domain.Account)}
	for _, account := range accounts {
		repo.accounts[repoKey(account.Platform, account.Username)] = account
	}
	return repo
}

func (r *inMemoryAccountRepo) List(context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool {
		return repoKey(out[i].Platform, out[i].Username) < repoKey(out[j].Platform, out[j].Username)
	})
	return out, nil
}

func (r *inMemoryAccountRepo) Save(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}
	r.accounts[repoKey(account.Platform, account.Username)] = account
	return nil
}

func (r *inMemoryAccountRepo) Delete(_ context.Context, platform domain.Platform, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := repoKey(platform, username)
	if _, ok := r.accounts[key]; !ok {
		return domain.ErrAccountNotFound
	}
	delete(r.accounts, key)
	return nil
}

func (r *inMemoryAccountRepo) get(platform domain.Platform, username string) (domain.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[repoKey(platform, username)]
	return account, ok
}

func repoKey(platform domain.Platform, username string) string {
	return string(platform) + "/" + username
}

type inMemorySecretStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newInMemorySecretStore() *inMemorySecretStore {
	return &inMemorySecretStore{secrets: make(map[string]string)}
}

func (s *inMemorySecretStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.secrets[key]
	if !ok {
		return "", fmt.Errorf("get %s: %w", key, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *inMemorySecretStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = value
	return nil
}

func (s *inMemorySecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}
