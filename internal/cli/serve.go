package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aqasim81/joke-server/internal/config"
	"github.com/aqasim81/joke-server/internal/database"
	"github.com/aqasim81/joke-server/internal/health"
	"github.com/aqasim81/joke-server/internal/httpapi"
	"github.com/aqasim81/joke-server/internal/jokes"
	"github.com/aqasim81/joke-server/internal/ledger"
	"github.com/aqasim81/joke-server/internal/metrics"
	"github.com/aqasim81/joke-server/internal/seed"
)

const healthWatchInterval = 30 * time.Second

var serveCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the jokes API until SIGINT or SIGTERM. With --migrate and --seed
the schema is brought up to date and the jokes reloaded before listening.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	serveCmd.Flags().Int("port", 0, "HTTP port (default $PORT or 5000)")
	serveCmd.Flags().Bool("migrate", false, "apply pending migrations before serving")
	serveCmd.Flags().Bool("seed", false, "reload the seed dataset before serving")
	serveCmd.Flags().String("seed-file", "", "YAML dataset used with --seed instead of the bundled jokes")
	serveCmd.Flags().String("migrations-dir", "", "with --migrate, load migrations from this directory instead of the bundled set")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	logger := AppLogger

	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting jokeserver",
		"version", version,
		"profile", cfg.Profile,
		"database", config.RedactURL(cfg.ConnString()),
	)

	pool, err := database.Open(ctx, database.SettingsFromConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Teardown()

	if err := health.Startup(logger, pool, cfg.Strict()); err != nil {
		return err
	}

	if err := prepare(ctx, cmd, cfg, logger, pool); err != nil {
		return err
	}

	httpMetrics := metrics.NewHTTPCollector()

	reg, err := metrics.NewRegistry(metrics.NewPoolCollector(pool), httpMetrics)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	probe := health.NewProbe(pool)
	store := jokes.NewStore(pool)

	if !pool.Degraded() {
		if n, err := store.Count(ctx); err != nil {
			logger.Warn("counting jokes", "error", err)
		} else {
			logger.Info("jokes available", "count", n)
		}
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Jokes:    store,
		Health:   probe,
		Logger:   logger,
		Metrics:  httpMetrics,
		Gatherer: reg,
	})
	srv := httpapi.NewServer(cfg.ListenAddr(), router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return probe.Watch(gctx, healthWatchInterval, logger) })

	err = g.Wait()

	// The server has drained by now; Teardown (deferred) closes the pool.
	logger.Info("shutting down")

	return err
}

// prepare runs the optional --migrate and --seed steps.
func prepare(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, pool *database.Pool) error {
	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		ms, err := loadMigrations(cmd)
		if err != nil {
			return err
		}

		l := ledger.New(pool, ledger.NewTracker(pool),
			ledger.WithLockTimeout(cfg.LockTimeout),
			ledger.WithStatementTimeout(cfg.StatementTimeout),
		)

		res, err := l.Apply(ctx, ms)
		if err != nil {
			return err
		}

		if res.Batch == 0 {
			logger.Info("schema up to date")
		} else {
			logger.Info("migrations applied", "batch", res.Batch, "migrations", res.Names)
		}
	}

	if doSeed, _ := cmd.Flags().GetBool("seed"); doSeed {
		path, _ := cmd.Flags().GetString("seed-file")

		dataset, err := loadDataset(path)
		if err != nil {
			return err
		}

		n, err := seed.New(pool).Run(ctx, dataset)
		if err != nil {
			return err
		}

		logger.Info("seed data loaded", "jokes", n)
	}

	return nil
}
