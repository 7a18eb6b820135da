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

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcollison/hermes/internal/ado"
	"github.com/dcollison/hermes/internal/api"
	"github.com/dcollison/hermes/internal/config"
	"github.com/dcollison/hermes/internal/notify"
	"github.com/dcollison/hermes/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load the env file before cobra evaluates flag defaults, so values in
	// it show up through envOrDefault.
	if _, err := config.LoadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host     string
		port     int
		dataDir  string
		logLevel string
	)

	root := &cobra.Command{
		Use:   "hermes-server",
		Short: "Hermes server — Azure DevOps webhook receiver and notification dispatcher",
		Long: `Hermes server receives Azure DevOps webhook events, turns them into
identity-routed notifications, and fans them out over HTTP to the
registered desktop clients on the local network.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			cfg.Host = host
			cfg.Port = port
			cfg.DataDir = dataDir
			cfg.LogLevel = logLevel
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&host, "host", config.EnvOrDefault("HOST", "0.0.0.0"), "HTTP listen address")
	root.PersistentFlags().IntVar(&port, "port", envIntOrDefault("PORT", 8000), "HTTP listen port")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", config.EnvOrDefault("DATA_DIR", "data"), "Directory for clients.json and the delivery log")
	root.PersistentFlags().StringVar(&logLevel, "log-level", config.EnvOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hermes-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting hermes server",
		zap.String("version", version),
		zap.String("addr", cfg.Addr()),
		zap.String("ado_organization_url", cfg.ADOOrganizationURL),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("webhook_secret_configured", cfg.ADOWebhookSecret != ""),
		zap.Bool("pat_configured", cfg.ADOPAT != ""),
	)
	if cfg.ADOPAT == "" {
		logger.Warn("no ADO PAT configured — avatars and group routing are disabled")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DataDir, cfg.LogMaxBytes, cfg.LogBackupCount, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	identity := ado.NewIdentity(ado.Config{
		OrganizationURL:    cfg.ADOOrganizationURL,
		PAT:                cfg.ADOPAT,
		APIVersion:         cfg.ADOAPIVersion,
		InsecureSkipVerify: cfg.ADOInsecureSkipVerify,
	}, logger)

	dispatcher := notify.NewDispatcher(st, notify.NewRouter(identity), logger)
	formatter := notify.NewFormatter(identity, logger)

	if cfg.IdentityCacheTTL > 0 {
		sweeper, err := startCacheSweeper(identity, cfg.IdentityCacheTTL, logger)
		if err != nil {
			return err
		}
		defer sweeper.Shutdown() //nolint:errcheck
	}

	handler := api.NewRouter(api.RouterConfig{
		Store:         st,
		Formatter:     formatter,
		Dispatcher:    dispatcher,
		Logger:        logger,
		WebhookSecret: cfg.ADOWebhookSecret,
		PublicURL:     cfg.ServerPublicURL,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Stop accepting connections and drain in-flight requests. Dispatch
	// goroutines are not tracked; deliveries already started race the
	// process exit.
	logger.Info("shutting down hermes server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// startCacheSweeper schedules a periodic job that expires identity cache
// entries older than the TTL.
func startCacheSweeper(identity *ado.Identity, ttl time.Duration, logger *zap.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create cache sweeper: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(ttl),
		gocron.NewTask(func() {
			if removed := identity.SweepCache(ttl); removed > 0 {
				logger.Debug("swept identity cache", zap.Int("removed", removed))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	sched.Start()
	logger.Info("identity cache sweeper started", zap.Duration("ttl", ttl))
	return sched, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
