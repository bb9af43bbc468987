package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/metrics"
	"github.com/bnema/crawlpool/internal/ports"
)

const (
	DefaultMaxRetries  = 2
	DefaultMaxWorkers  = 20
	DefaultAccountWait = time.Minute
)

type SchedulerConfig struct {
	// MaxRetries bounds retries per chunk across all failure classes. Zero
	// disables retries; a negative value selects the default.
	MaxRetries  int
	MaxWorkers  int
	AccountWait time.Duration
	Backoff     Backoff
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.AccountWait <= 0 {
		c.AccountWait = DefaultAccountWait
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	return c
}

type RunRequest struct {
	Job         domain.Job
	Items       []string
	Concurrency int
	Worker      ports.PlatformWorker
}

// Scheduler splits a job into chunks and drives each chunk through account
// checkout, proxy acquisition and worker execution. A nil proxy pool runs
// every task without a proxy.
type Scheduler struct {
	accounts *AccountRegistry
	proxies  *ProxyPool
	secrets  ports.SecretStore
	cfg      SchedulerConfig
	clock    ports.Clock
	log      zerolog.Logger
}

func NewScheduler(accounts *AccountRegistry, proxies *ProxyPool, secrets ports.SecretStore, cfg SchedulerConfig, clock ports.Clock) *Scheduler {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Scheduler{
		accounts: accounts,
		proxies:  proxies,
		secrets:  secrets,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		log:      logger.WithComponent("Scheduler"),
	}
}

// Run executes every chunk of req and returns the report in chunk order.
// Cancelling ctx stops admission of new chunks; attempts already at the worker
// run to completion. A configuration error aborts the whole run.
func (s *Scheduler) Run(ctx context.Context, req RunRequest) (domain.RunReport, error) {
	if req.Worker == nil {
		return domain.RunReport{}, fmt.Errorf("%w: no worker for platform %s", domain.ErrConfiguration, req.Job.Platform)
	}
	if err := req.Job.Platform.Validate(); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s: %w", req.Job.Kind, err)
	}

	report := domain.RunReport{
		ID:        uuid.NewString(),
		Platform:  req.Job.Platform,
		Kind:      req.Job.Kind,
		StartedAt: s.clock.Now(),
	}
	started := time.Now()
	log := s.log.With().Str("run_id", report.ID).Str("platform", string(req.Job.Platform)).Str("kind", string(req.Job.Kind)).Logger()

	pool := s.accounts.Pool(req.Job.Platform)
	if pool == nil {
		// Nothing registered: every checkout reports exhaustion.
		pool = NewAccountPool(req.Job.Platform, 0, s.clock)
	}

	chunks := Split(req.Items, req.Concurrency)
	results := make([]domain.ChunkResult, len(chunks))
	log.Info().Int("items", len(req.Items)).Int("chunks", len(chunks)).Msg("run started")

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	gate := semaphore.NewWeighted(int64(max(1, min(req.Concurrency, s.cfg.MaxWorkers))))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if err := gate.Acquire(runCtx, 1); err != nil {
			results[i] = cancelledResult(chunk, "run stopped before chunk was admitted")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer gate.Release(1)

			metrics.UnitsActive.Inc()
			defer metrics.UnitsActive.Dec()

			unit := &chunkUnit{
				scheduler: s,
				job:       req.Job,
				worker:    req.Worker,
				pool:      pool,
				chunk:     chunk,
				abort:     abort,
				log:       log.With().Int("chunk", chunk.Index).Logger(),
			}
			results[i] = unit.run(runCtx)
		}()
	}
	wg.Wait()

	var configErr error
	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, domain.ErrConfiguration) {
		configErr = cause
	}
	cancelled := ctx.Err() != nil && configErr == nil

	report.Results = results
	report.FinishedAt = s.clock.Now()
	report.Summarize(cancelled)
	metrics.RunDuration.WithLabelValues(string(req.Job.Kind)).Observe(time.Since(started).Seconds())

	log.Info().
		Str("status", string(report.Status)).
		Int("records", len(report.Records)).
		Int("failed_chunks", len(report.Failures())).
		Msg("run finished")

	switch {
	case configErr != nil:
		return report, fmt.Errorf("run aborted: %w", configErr)
	case cancelled:
		return report, fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx))
	default:
		return report, nil
	}
}

func cancelledResult(chunk domain.TaskChunk[string], reason string) domain.ChunkResult {
	return domain.ChunkResult{
		Index:   chunk.Index,
		Items:   len(chunk.Items),
		State:   domain.ChunkFailed,
		Failure: &domain.ChunkFailure{Class: domain.ClassCancelled, Reason: reason},
	}
}

// chunkUnit carries one chunk through
// Pending -> Assigning -> Executing -> {Succeeded | Retrying -> Assigning | Failed}.
type chunkUnit struct {
	scheduler *Scheduler
	job       domain.Job
	worker    ports.PlatformWorker
	pool      *AccountPool
	chunk     domain.TaskChunk[string]
	abort     context.CancelCauseFunc
	log       zerolog.Logger

	state      domain.ChunkState
	attempts   int
	retries    int
	account    *domain.Account
	credential domain.Credential
	lease      *domain.ProxyLease
	lastClass  domain.FailureClass
	lastErr    error
	records    []domain.Record
	failure    *domain.ChunkFailure
	lastUser   string
	lastProxy  string
}

func (u *chunkUnit) run(ctx context.Context) domain.ChunkResult {
	u.state = domain.ChunkPending
	for !u.state.Terminal() {
		switch u.state {
		case domain.ChunkPending:
			u.state = domain.ChunkAssigning
		case domain.ChunkAssigning:
			u.assign(ctx)
		case domain.ChunkExecuting:
			u.execute(ctx)
		case domain.ChunkRetrying:
			u.retry(ctx)
		}
	}
	u.returnResources()

	outcome := string(u.state)
	if u.failure != nil {
		outcome = string(u.failure.Class)
	}
	metrics.ChunksCompleted.WithLabelValues(string(u.job.Platform), string(u.job.Kind), outcome).Inc()
	metrics.ChunkAttempts.Observe(float64(u.attempts))

	return domain.ChunkResult{
		Index:    u.chunk.Index,
		Items:    len(u.chunk.Items),
		State:    u.state,
		Records:  u.records,
		Failure:  u.failure,
		Attempts: u.attempts,
		Account:  u.lastUser,
		Proxy:    u.lastProxy,
	}
}

func (u *chunkUnit) assign(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		u.fail(domain.ClassCancelled, "run stopped before chunk was assigned")
		return
	}

	for u.account == nil {
		account, err := u.checkoutAccount(ctx)
		if err != nil {
			if ctx.Err() != nil {
				u.fail(domain.ClassCancelled, "run stopped while waiting for an account")
				return
			}
			u.fail(domain.ClassNoAccountAvailable, err.Error())
			return
		}

		password, err := u.scheduler.secrets.Get(ctx, account.CredentialRef)
		if err != nil {
			u.log.Warn().Err(err).Str("username", account.Username).Msg("credential unavailable, banning account")
			if checkinErr := u.pool.Checkin(account.Username, domain.CheckinBanned); checkinErr != nil {
				u.log.Error().Err(checkinErr).Str("username", account.Username).Msg("checkin failed")
			}
			continue
		}

		u.account = &account
		u.credential = domain.Credential{Username: account.Username, Password: password}
		u.lastUser = account.Username
	}

	if u.lease == nil && u.scheduler.proxies != nil {
		lease, err := u.scheduler.proxies.Acquire(ctx)
		switch {
		case err == nil:
			u.lease = &lease
			u.lastProxy = lease.Address
		case errors.Is(err, domain.ErrConfiguration):
			u.log.Error().Err(err).Msg("proxy configuration rejected, aborting run")
			u.abort(err)
			u.fail(domain.ClassProxyExhausted, err.Error())
			return
		case ctx.Err() != nil:
			u.fail(domain.ClassCancelled, "run stopped while acquiring a proxy")
			return
		default:
			u.fail(domain.ClassProxyExhausted, err.Error())
			return
		}
	}

	u.state = domain.ChunkExecuting
}

// checkoutAccount waits with backoff while every account is busy or cooling
// down, up to AccountWait. Exhaustion fails immediately.
func (u *chunkUnit) checkoutAccount(ctx context.Context) (domain.Account, error) {
	waitCtx, cancel := context.WithTimeout(ctx, u.scheduler.cfg.AccountWait)
	defer cancel()

	for attempt := 0; ; attempt++ {
		account, err := u.pool.Checkout()
		if err == nil {
			return account, nil
		}
		if !isAccountShortage(err) {
			return domain.Account{}, err
		}

		if sleepErr := sleepCtx(waitCtx, u.scheduler.cfg.Backoff.Delay(attempt)); sleepErr != nil {
			if ctx.Err() != nil {
				return domain.Account{}, ctx.Err()
			}
			return domain.Account{}, fmt.Errorf("no %s account freed up within %s: %w", u.job.Platform, u.scheduler.cfg.AccountWait, err)
		}
	}
}

func (u *chunkUnit) execute(ctx context.Context) {
	u.attempts++
	task := domain.Task{
		Job:        u.job,
		Chunk:      u.chunk,
		Attempt:    u.attempts,
		Account:    *u.account,
		Credential: u.credential,
	}
	if u.lease != nil {
		task.ProxyAddress = u.lease.Address
		task.ProxyURL = u.scheduler.proxies.ProxyURL(*u.lease)
	}

	// In-flight attempts finish even when the run is cancelled.
	records, err := u.worker.Execute(context.WithoutCancel(ctx), task)
	if err == nil {
		u.records = records
		u.state = domain.ChunkSucceeded
		return
	}

	kind := domain.ClassifyWorkerError(err)
	class := kind.Class()
	u.lastClass, u.lastErr = class, err
	u.log.Warn().Err(err).Int("attempt", u.attempts).Str("class", string(class)).Msg("attempt failed")

	switch class {
	case domain.ClassProxyFailure:
		if u.lease != nil {
			if discardErr := u.scheduler.proxies.Discard(*u.lease, string(kind)); discardErr != nil {
				u.log.Error().Err(discardErr).Msg("discard lease failed")
			}
			u.lease = nil
		}
		u.state = domain.ChunkRetrying
	case domain.ClassAccountFailure:
		if checkinErr := u.pool.Checkin(u.account.Username, kind.CheckinOutcome()); checkinErr != nil {
			u.log.Error().Err(checkinErr).Str("username", u.account.Username).Msg("checkin failed")
		}
		u.account = nil
		u.state = domain.ChunkRetrying
	default:
		u.fail(domain.ClassNonRetryable, err.Error())
	}
}

func (u *chunkUnit) retry(ctx context.Context) {
	if u.retries >= u.scheduler.cfg.MaxRetries {
		u.fail(u.lastClass, fmt.Sprintf("gave up after %d attempts: %v", u.attempts, u.lastErr))
		return
	}
	if ctx.Err() != nil {
		u.fail(domain.ClassCancelled, fmt.Sprintf("run stopped after attempt %d: %v", u.attempts, u.lastErr))
		return
	}

	u.retries++
	u.state = domain.ChunkAssigning
}

func (u *chunkUnit) fail(class domain.FailureClass, reason string) {
	u.failure = &domain.ChunkFailure{Class: class, Reason: reason}
	u.state = domain.ChunkFailed
}

// returnResources hands back whatever the unit still holds. Anything still
// held at this point served the chunk without fault.
func (u *chunkUnit) returnResources() {
	if u.lease != nil {
		if err := u.scheduler.proxies.Release(*u.lease); err != nil {
			u.log.Error().Err(err).Str("lease_id", u.lease.ID).Msg("release lease failed")
		}
		u.lease = nil
	}
	if u.account != nil {
		if err := u.pool.Checkin(u.account.Username, domain.CheckinSuccess); err != nil {
			u.log.Error().Err(err).Str("username", u.account.Username).Msg("checkin failed")
		}
		u.account = nil
	}
}
