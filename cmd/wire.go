package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	staticproxy "github.com/bnema/crawlpool/internal/adapters/proxysource/static"
	statusadapter "github.com/bnema/crawlpool/internal/adapters/render/status"
	tomlrepo "github.com/bnema/crawlpool/internal/adapters/repo/toml"
	chainstore "github.com/bnema/crawlpool/internal/adapters/secrets/chain"
	filestore "github.com/bnema/crawlpool/internal/adapters/secrets/file"
	memorystore "github.com/bnema/crawlpool/internal/adapters/secrets/memory"
	passstore "github.com/bnema/crawlpool/internal/adapters/secrets/pass"
	echoworker "github.com/bnema/crawlpool/internal/adapters/worker/echo"
	"github.com/bnema/crawlpool/internal/application"
	"github.com/bnema/crawlpool/internal/config"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/ports"
)

type app struct {
	cfg            config.Config
	service        *application.CrawlService
	statusRenderer func(application.Status, statusadapter.RenderOptions) (string, error)
	now            func() time.Time
	closers        []func()
}

func (a *app) wire(ctx context.Context, cfg config.Config) error {
	log := logger.WithComponent("Wire")

	repoCfg := viper.New()
	repoCfg.Set("accounts.path", cfg.Accounts.Path)
	repo, err := tomlrepo.NewRepository(repoCfg)
	if err != nil {
		return fmt.Errorf("wire account repository: %w", err)
	}

	secrets, err := newSecretStore(cfg.Accounts)
	if err != nil {
		return fmt.Errorf("wire secret store: %w", err)
	}

	clock := ports.SystemClock{}
	accounts := application.NewAccountRegistry(cfg.Accounts.CoolingInterval(), clock)

	proxies, err := newProxyPool(ctx, cfg.Proxy, clock)
	if err != nil {
		return fmt.Errorf("wire proxy pool: %w", err)
	}
	if proxies == nil && cfg.Proxy.Enabled {
		log.Warn().Msg("proxy.enabled is set but proxy.static.addresses is empty, running without proxies")
	}

	backoff := application.Backoff{
		Initial: cfg.Scheduler.BackoffInitial(),
		Max:     cfg.Scheduler.BackoffMax(),
	}
	scheduler := application.NewScheduler(accounts, proxies, secrets, application.SchedulerConfig{
		MaxRetries:  cfg.Scheduler.MaxRetries,
		MaxWorkers:  cfg.Scheduler.MaxWorkers,
		AccountWait: cfg.Scheduler.AccountWait(),
		Backoff:     backoff,
	}, clock)

	service := application.NewCrawlService(
		accounts,
		proxies,
		scheduler,
		repo,
		secrets,
		echoworker.NewFactory(cfg.Worker.Latency()),
		application.CrawlConfig{
			DetailChunkSize:    cfg.Scheduler.DetailChunkSize,
			UserChunkSize:      cfg.Scheduler.UserChunkSize,
			DefaultConcurrency: cfg.Scheduler.DefaultConcurrency,
		},
	)
	a.closers = append(a.closers, service.Close)

	loaded, err := service.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts from %s: %w", repo.Path(), err)
	}
	log.Debug().Int("accounts", loaded).Str("path", repo.Path()).Msg("account registry loaded")

	a.cfg = cfg
	a.service = service
	a.statusRenderer = statusadapter.Render
	a.now = time.Now
	return nil
}

func newSecretStore(cfg config.AccountsConfig) (ports.SecretStore, error) {
	switch cfg.SecretsBackend {
	case config.SecretsBackendFile, "":
		return filestore.NewStore(cfg.SecretsDir), nil
	case config.SecretsBackendPass:
		return passstore.NewStore(cfg.PassPrefix), nil
	case config.SecretsBackendPassFile:
		return chainstore.NewPassFirstWithFileFallback(cfg.PassPrefix, cfg.SecretsDir)
	case config.SecretsBackendMemory:
		return memorystore.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.SecretsBackend)
	}
}

// newProxyPool returns nil when proxying is disabled or no addresses are
// configured.
func newProxyPool(ctx context.Context, cfg config.ProxyConfig, clock ports.Clock) (*application.ProxyPool, error) {
	if !cfg.Enabled || len(cfg.Static.Addresses) == 0 {
		return nil, nil
	}

	source, err := staticproxy.NewSource(cfg.Static.Addresses, cfg.Static.TTL())
	if err != nil {
		return nil, err
	}

	pool, err := application.NewProxyPool(source, application.ProxyPoolConfig{
		SafetyMargin:    cfg.SafetyMargin(),
		AcquireAttempts: cfg.AcquireAttempts,
		Credentials:     cfg.Vendor.Credentials(),
	}, clock)
	if err != nil {
		return nil, err
	}

	if cfg.WarmSize > 0 {
		if _, err := pool.Warm(ctx, cfg.WarmSize); err != nil {
			pool.Stop()
			return nil, err
		}
	}
	pool.Start()

	return pool, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
