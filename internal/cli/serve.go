package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clofast/clofast/internal/config"
	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/metrics"
	"github.com/clofast/clofast/internal/profiles"
	"github.com/clofast/clofast/internal/scheduler"
	"github.com/clofast/clofast/internal/server"
)

const (
	pruneInterval   = time.Hour
	dbStatsInterval = 15 * time.Second
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and scheduler",
	Long: `Start the clofast HTTP API together with the scheduling engine.

On start the engine reloads every enabled trigger from the database and
computes its next run from the current time. Occurrences missed while the
service was down are counted and logged but not run.

On SIGINT or SIGTERM the server stops accepting requests, the engine stops
firing and in-flight callbacks are given scheduler.drain_timeout to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultHost, "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	setupLogging(cfg.Logging)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	schedules := scheduler.NewStore(db)
	history := scheduler.NewHistoryStore(db)
	processor := profiles.NewProcessor(db, profiles.LogHandler)
	executor := scheduler.NewExecutor(processor.Process, history)
	engine := scheduler.NewEngine(schedules, executor, scheduler.WithTimezone(cfg.Scheduler.Timezone))
	registry := profiles.NewRegistry(db, schedules, engine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	if cfg.Logging.Watch {
		if watcher := watchLogging(ctx); watcher != nil {
			defer func() { _ = watcher.Stop() }()
		}
	}

	go runMaintenance(ctx, cfg, db, history)

	srv := server.New(cfg, db, registry, engine, history, server.WithVersion(version))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("url", "http://"+cfg.Server.Address()).
		Str("timezone", cfg.Scheduler.Timezone).
		Msg("Server started")

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("Server error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server did not shut down cleanly")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Scheduler.DrainTimeout)
	defer cancelDrain()
	if err := engine.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Scheduler drain timed out")
	}

	return serveErr
}

// watchLogging re-applies the logging section whenever the config file
// changes. Other sections need a restart.
func watchLogging(ctx context.Context) *config.Watcher {
	path, err := config.ConfigFilePath(cfgFile)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			log.Warn().Err(err).Msg("Config watching disabled")
		}
		return nil
	}

	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		setupLogging(cfg.Logging)
		log.Info().Str("level", cfg.Logging.Level).Msg("Logging reconfigured")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set up config watcher, continuing without reload")
		return nil
	}

	watcher.Start(ctx)
	log.Info().Str("path", path).Msg("Config watching enabled")
	return watcher
}

// runMaintenance prunes firing history past its retention and samples
// connection pool stats until ctx is done.
func runMaintenance(ctx context.Context, cfg *config.Config, db *database.DB, history *scheduler.HistoryStore) {
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()
	stats := time.NewTicker(dbStatsInterval)
	defer stats.Stop()

	pruneHistory(ctx, cfg.Scheduler.HistoryRetention, history)

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			pruneHistory(ctx, cfg.Scheduler.HistoryRetention, history)
		case <-stats.C:
			s := db.Stats()
			metrics.UpdateDBStats(s.OpenConnections, s.InUse)
		}
	}
}

func pruneHistory(ctx context.Context, retention time.Duration, history *scheduler.HistoryStore) {
	if retention <= 0 {
		return
	}

	n, err := history.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to prune firing history")
		}
		return
	}
	if n > 0 {
		log.Info().Int64("removed", n).Dur("retention", retention).Msg("Pruned firing history")
	}
}
