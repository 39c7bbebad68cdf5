package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/printdialog/printdialog/internal/config"
	"github.com/printdialog/printdialog/internal/discovery"
	"github.com/printdialog/printdialog/internal/lifecycle"
	"github.com/printdialog/printdialog/internal/logging"
	"github.com/printdialog/printdialog/internal/notify"
	"github.com/printdialog/printdialog/internal/provider"
	"github.com/printdialog/printdialog/internal/provider/cups"
	"github.com/printdialog/printdialog/internal/provider/static"
	"github.com/printdialog/printdialog/internal/reaper"
	"github.com/printdialog/printdialog/internal/session"
	"github.com/printdialog/printdialog/internal/subscription"
	"github.com/printdialog/printdialog/internal/ws"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	configPath string
	port       int
	provider   string
	printers   string
	logLevel   string
	stayAlive  bool
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(f.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f.bind(cmd)
	return cmd
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "config.yaml", "Path to config file")
	flags.IntVar(&f.port, "port", 0, "Override server port")
	flags.StringVar(&f.provider, "provider", "", "Override provider kind (static, cups)")
	flags.StringVar(&f.printers, "printers", "", "Printers file for the static provider")
	flags.StringVar(&f.logLevel, "log-level", "", "Override log level")
	flags.BoolVar(&f.stayAlive, "stay-alive", false, "Keep running after the last dialog is gone")
}

// apply copies explicitly set flags over cfg and validates the result.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = f.port
	}
	if flags.Changed("provider") {
		cfg.Provider.Kind = f.provider
	}
	if flags.Changed("printers") {
		cfg.Provider.Static.Path = f.printers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("stay-alive") {
		cfg.Lifecycle.ExitWhenIdle = !f.stayAlive
	}
	return cfg.Validate()
}

// daemonProvider is a provider with a background loop of its own.
type daemonProvider interface {
	provider.Provider
	Run(ctx context.Context) error
}

func openProvider(cfg *config.Config, logger zerolog.Logger) (daemonProvider, error) {
	switch cfg.Provider.Kind {
	case config.ProviderStatic:
		p, err := static.Open(static.Options{
			Path:          cfg.Provider.Static.Path,
			ChurnInterval: cfg.Provider.Static.ChurnInterval,
			LeaseDuration: cfg.Subscription.LeaseDuration,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening printers file: %w", err)
		}
		return p, nil
	case config.ProviderCUPS:
		return cups.New(cups.Options{
			LpstatPath:    cfg.Provider.CUPS.LpstatPath,
			PollInterval:  cfg.Provider.CUPS.PollInterval,
			LeaseDuration: cfg.Subscription.LeaseDuration,
			Logger:        logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Kind)
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := logging.Init(cfg.Log.Level, cfg.Log.Format)

	prov, err := openProvider(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := session.NewRegistry()
	hub := ws.NewHub(0, logger)
	dispatcher := notify.New(registry, hub, logger)
	engine := discovery.New(ctx, prov, dispatcher, discovery.Options{
		RetryAttempts: cfg.Discovery.RetryAttempts,
		RetryDelay:    cfg.Discovery.RetryDelay,
		Logger:        logger,
	})
	dispatcher.SetRefresher(engine)

	policy := lifecycle.New(cfg.Lifecycle.ExitWhenIdle, cancel, logger)
	registry.OnRemove(policy.OnRemove)

	subs := subscription.New(prov, dispatcher, subscription.Options{
		LeaseDuration: cfg.Subscription.LeaseDuration,
		RenewMargin:   cfg.Subscription.RenewMargin,
		RetryAttempts: cfg.Discovery.RetryAttempts,
		Logger:        logger,
	})
	reap := reaper.New(registry, cfg.Lifecycle.ReapInterval, logger)

	server := ws.NewServer(hub, ws.Options{
		Registry:       registry,
		Discovery:      engine,
		Provider:       prov,
		Policy:         policy,
		Stats:          dispatcher.Stats,
		Subscription:   subs.Status,
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("provider", prov.Name()).
		Bool("exit_when_idle", cfg.Lifecycle.ExitWhenIdle).
		Str("version", version).
		Msg("backend starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prov.Run(gctx) })
	g.Go(func() error { return subs.Run(gctx) })
	g.Go(func() error { return reap.Run(gctx) })
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		hub.Close()
		return err
	})

	err = g.Wait()
	engine.Wait()
	if err != nil {
		logger.Error().Err(err).Msg("backend stopped with error")
		return err
	}
	logger.Info().Msg("backend stopped")
	return nil
}
