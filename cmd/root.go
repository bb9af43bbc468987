package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/crawlpool/internal/config"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/metrics"
)

const skipWireAnnotation = "crawlpool/skip-wire"

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, app := newRootCmd()
	defer app.close()

	return rootCmd.ExecuteContext(ctx)
}

// newRootCmd builds the command tree. The returned app is wired lazily before
// the first command runs; callers must close it.
func newRootCmd() (*cobra.Command, *app) {
	opts := &rootOptions{}
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "crawlpool",
		Short:         "crawlpool: schedule scraping work across accounts and proxy leases",
		Long:          "crawlpool keeps per-platform account pools and a pool of short-lived proxy leases, splits scraping jobs into chunks and runs them in parallel with retries, cool-downs and ban tracking.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipWireAnnotation] == "true" {
				return nil
			}
			return app.init(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file (default ~/.crawlpool/config.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format override (console, json)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newAccountCmd(app),
		newSearchCmd(app),
		newPostsCmd(app),
		newUsersCmd(app),
		newPoolCmd(app),
	)

	return rootCmd, app
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	v := viper.New()
	if opts.configFile != "" {
		v.SetConfigFile(opts.configFile)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}

	return cfg, nil
}

func (a *app) init(cmd *cobra.Command, opts *rootOptions) error {
	if a.service != nil {
		return nil
	}
	ctx := cmd.Context()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := logger.InitWithWriter(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := a.wire(ctx, cfg); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(ctx, cfg.Metrics.Addr)
	}

	return nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) {
	metricsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.closers = append(a.closers, func() {
		cancel()
		<-done
	})

	log := logger.WithComponent("Metrics")
	go func() {
		defer close(done)
		log.Info().Str("addr", addr).Msg("serving prometheus metrics")
		if err := metrics.Serve(metricsCtx, addr); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
}
