package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/ports"
)

const (
	DefaultDetailChunkSize = 10
	DefaultUserChunkSize   = 5
	DefaultConcurrency     = 5
)

type CrawlConfig struct {
	DetailChunkSize    int
	UserChunkSize      int
	DefaultConcurrency int
}

func (c CrawlConfig) withDefaults() CrawlConfig {
	if c.DetailChunkSize <= 0 {
		c.DetailChunkSize = DefaultDetailChunkSize
	}
	if c.UserChunkSize <= 0 {
		c.UserChunkSize = DefaultUserChunkSize
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = DefaultConcurrency
	}
	return c
}

// CrawlService is the entry point for account management and crawl runs.
type CrawlService struct {
	accounts  *AccountRegistry
	proxies   *ProxyPool
	scheduler *Scheduler
	repo      ports.AccountRepository
	store     ports.SecretStore
	workers   ports.WorkerFactory
	cfg       CrawlConfig
	log       zerolog.Logger
}

func NewCrawlService(
	accounts *AccountRegistry,
	proxies *ProxyPool,
	scheduler *Scheduler,
	repo ports.AccountRepository,
	store ports.SecretStore,
	workers ports.WorkerFactory,
	cfg CrawlConfig,
) *CrawlService {
	return &CrawlService{
		accounts:  accounts,
		proxies:   proxies,
		scheduler: scheduler,
		repo:      repo,
		store:     store,
		workers:   workers,
		cfg:       cfg.withDefaults(),
		log:       logger.WithComponent("CrawlService"),
	}
}

// RegisterAccount stores the password, adds the account to its platform pool
// and persists it. A failed save rolls back both.
func (s *CrawlService) RegisterAccount(ctx context.Context, cmd RegisterAccountCommand) (domain.Account, error) {
	if err := cmd.Platform.Validate(); err != nil {
		return domain.Account{}, fmt.Errorf("register account: %w", err)
	}
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		return domain.Account{}, fmt.Errorf("register account: username is required")
	}
	if cmd.Password == "" {
		return domain.Account{}, fmt.Errorf("register account: password is required")
	}
	if _, err := s.accounts.Get(cmd.Platform, username); err == nil {
		return domain.Account{}, fmt.Errorf("register %s/%s: %w", cmd.Platform, username, domain.ErrDuplicateAccount)
	}

	secretRef := domain.CredentialRefFor(cmd.Platform, username)
	if err := s.store.Put(ctx, secretRef, cmd.Password); err != nil {
		return domain.Account{}, fmt.Errorf("store account secret: %w", err)
	}

	account, err := s.accounts.Register(cmd.Platform, username, secretRef)
	if err != nil {
		if rollbackErr := s.store.Delete(ctx, secretRef); rollbackErr != nil {
			return domain.Account{}, fmt.Errorf("register account and rollback stored secret: %w", errors.Join(err, rollbackErr))
		}
		return domain.Account{}, err
	}

	if err := s.repo.Save(ctx, account); err != nil {
		var rollbackErr error
		if _, removeErr := s.accounts.Remove(cmd.Platform, username); removeErr != nil {
			rollbackErr = errors.Join(rollbackErr, removeErr)
		}
		if deleteErr := s.store.Delete(ctx, secretRef); deleteErr != nil {
			rollbackErr = errors.Join(rollbackErr, deleteErr)
		}
		if rollbackErr != nil {
			return domain.Account{}, fmt.Errorf("save account and rollback registration: %w", errors.Join(err, rollbackErr))
		}
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	return account, nil
}

func (s *CrawlService) RemoveAccount(ctx context.Context, platform domain.Platform, username string) error {
	account, err := s.accounts.Remove(platform, username)
	if err != nil {
		return fmt.Errorf("remove account: %w", err)
	}

	if err := s.repo.Delete(ctx, platform, username); err != nil {
		if restoreErr := s.accounts.Restore(account); restoreErr != nil {
			return fmt.Errorf("delete account and restore pool entry: %w", errors.Join(err, restoreErr))
		}
		return fmt.Errorf("delete account: %w", err)
	}

	if account.CredentialRef != "" {
		if err := s.store.Delete(ctx, account.CredentialRef); err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
			return fmt.Errorf("delete account secret: %w", err)
		}
	}

	return nil
}

func (s *CrawlService) UnbanAccount(ctx context.Context, platform domain.Platform, username string) (domain.Account, error) {
	account, err := s.accounts.Unban(platform, username)
	if err != nil {
		return domain.Account{}, fmt.Errorf("unban account: %w", err)
	}

	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	return account, nil
}

// ListAccounts returns accounts of one platform, or of every platform when
// the query leaves it empty.
func (s *CrawlService) ListAccounts(query ListAccountsQuery) ([]domain.Account, error) {
	if query.Platform != "" {
		if err := query.Platform.Validate(); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
	}

	accounts := make([]domain.Account, 0)
	for _, snapshot := range s.accounts.Snapshots() {
		if query.Platform != "" && snapshot.Platform != query.Platform {
			continue
		}
		accounts = append(accounts, snapshot.Accounts...)
	}

	return accounts, nil
}

// LoadAccounts restores every persisted account into its platform pool.
func (s *CrawlService) LoadAccounts(ctx context.Context) (int, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	for _, account := range accounts {
		if err := s.accounts.Restore(account); err != nil {
			return 0, fmt.Errorf("load accounts: %w", err)
		}
	}
	s.log.Debug().Int("accounts", len(accounts)).Msg("accounts loaded")

	return len(accounts), nil
}

// SyncAccounts persists the current state of every pooled account.
func (s *CrawlService) SyncAccounts(ctx context.Context) error {
	var errs error
	for _, snapshot := range s.accounts.Snapshots() {
		for _, account := range snapshot.Accounts {
			if err := s.repo.Save(ctx, account); err != nil {
				errs = errors.Join(errs, fmt.Errorf("save %s/%s: %w", account.Platform, account.Username, err))
			}
		}
	}
	if errs != nil {
		return fmt.Errorf("sync accounts: %w", errs)
	}

	return nil
}

func (s *CrawlService) RunKeywordSearch(ctx context.Context, cmd KeywordSearchCommand) (domain.RunReport, error) {
	concurrency := cmd.Concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.DefaultConcurrency
	}

	job := domain.Job{
		Kind:     domain.JobKeywordSearch,
		Platform: cmd.Platform,
		Params:   domain.JobParams{MaxResults: cmd.MaxResults},
	}
	return s.run(ctx, job, cmd.Keywords, concurrency)
}

func (s *CrawlService) RunPostDetails(ctx context.Context, cmd PostDetailsCommand) (domain.RunReport, error) {
	job := domain.Job{
		Kind:     domain.JobPostDetails,
		Platform: cmd.Platform,
		Params:   domain.JobParams{IncludeComments: cmd.IncludeComments},
	}
	return s.run(ctx, job, cmd.PostIDs, chunkCountFor(len(cmd.PostIDs), s.cfg.DetailChunkSize))
}

func (s *CrawlService) RunUserPosts(ctx context.Context, cmd UserPostsCommand) (domain.RunReport, error) {
	job := domain.Job{
		Kind:     domain.JobUserPosts,
		Platform: cmd.Platform,
		Params:   domain.JobParams{MaxPosts: cmd.MaxPosts},
	}
	return s.run(ctx, job, cmd.UserIDs, chunkCountFor(len(cmd.UserIDs), s.cfg.UserChunkSize))
}

// run executes the job and persists account state whatever the outcome, so
// bans and cool-downs survive the process.
func (s *CrawlService) run(ctx context.Context, job domain.Job, items []string, concurrency int) (domain.RunReport, error) {
	if err := job.Platform.Validate(); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s: %w", job.Kind, err)
	}
	worker, err := s.workers.WorkerFor(job.Platform)
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("resolve %s worker: %w", job.Platform, err)
	}

	report, runErr := s.scheduler.Run(ctx, RunRequest{
		Job:         job,
		Items:       items,
		Concurrency: concurrency,
		Worker:      worker,
	})

	if syncErr := s.SyncAccounts(context.WithoutCancel(ctx)); syncErr != nil {
		s.log.Error().Err(syncErr).Str("run_id", report.ID).Msg("persist account state failed")
		return report, errors.Join(runErr, syncErr)
	}

	return report, runErr
}

func (s *CrawlService) Status() Status {
	status := Status{Accounts: s.accounts.Snapshots()}
	if s.proxies != nil {
		snapshot := s.proxies.Snapshot()
		status.Proxy = &snapshot
	}
	return status
}

// Close stops background proxy maintenance.
func (s *CrawlService) Close() {
	if s.proxies != nil {
		s.proxies.Stop()
	}
}
