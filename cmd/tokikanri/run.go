package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/daemon"
	"github.com/tokikanri/tokikanri/internal/logging"
	"github.com/tokikanri/tokikanri/internal/notify"
	"github.com/tokikanri/tokikanri/internal/oracle"
	"github.com/tokikanri/tokikanri/internal/storage"
	"github.com/tokikanri/tokikanri/internal/tracker"
	"github.com/tokikanri/tokikanri/internal/web"
	"github.com/tokikanri/tokikanri/pkg/detector"
)

const eventQueueSize = 64

var (
	runBackground bool
	runPort       int
	runNoWeb      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracker in the foreground",
	Long: `Run the tracking daemon in the foreground until interrupted. This is the
command to use under systemd or another service manager.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runBackground, "background", false, "Log to the configured log file instead of stderr")
	runCmd.Flags().IntVarP(&runPort, "port", "p", 0, "Web API port (overrides config)")
	runCmd.Flags().BoolVar(&runNoWeb, "no-web", false, "Do not start the web API")
	_ = runCmd.Flags().MarkHidden("background")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging)
	if runBackground {
		fileLogger, closer, err := logging.SetupFile(cfg.Logging, cfg.Daemon.LogFile)
		if err != nil {
			return err
		}
		defer closer.Close()
		logger = fileLogger
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", version).
		Str("config", cfg.Path()).
		Msg("Starting tokikanri")

	dm := daemon.New(cfg.Daemon.PIDFile, logger)
	if err := dm.Acquire(); err != nil {
		return err
	}
	defer dm.Release()

	det, err := detector.New(logger)
	if err != nil {
		return err
	}
	defer det.Close()

	logger.Info().Str("display_server", det.GetDisplayServer()).Msg("Window detector initialized")

	b, err := openBackends(cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	engine := tracker.NewEngine(tracker.SettingsFromConfig(cfg), nil, eventQueueSize, logger)
	records, err := storage.LoadWithRetry(ctx, b.store, storage.DefaultRetry, logger)
	if err != nil {
		logger.Error().Err(err).Str("store", b.store.Name()).Msg("Could not load tracked processes, starting empty")
	} else {
		n := engine.Load(records)
		logger.Info().Int("processes", n).Str("store", b.store.Name()).Msg("Tracked processes loaded")
	}

	notifyBackends := []notify.Backend{notify.LogBackend{Logger: logger}}
	if cfg.Notify.Desktop && notify.DesktopAvailable() {
		notifyBackends = append(notifyBackends, notify.DesktopBackend{AppName: appName})
	}
	dispatcher := notify.NewDispatcher(32, logger, notifyBackends...)

	querier := detector.NewPlaybackQuerier()
	defer querier.Close()
	orc := oracle.New(querier, oracle.SettingsFromConfig(cfg.Oracle), func(st oracle.Status) {
		engine.Post(tracker.PlaybackResult{Identity: st.Identity, State: st.State, OK: st.OK, At: st.At})
	}, dispatcher, logger)
	orc.Start()
	// svc.Run stops the oracle before its final flush; this covers early returns.
	defer orc.Stop()

	deps := tracker.Deps{
		Engine:   engine,
		Detector: det,
		Store:    b.store,
		Oracle:   orc,
	}
	var history web.History
	if repo := b.history(cfg); repo != nil {
		deps.History = repo
		history = repo
	}
	svc := tracker.NewService(cfg, deps, logger)

	watcher := config.NewWatcher(cfg.Path(), func(c *config.Config) {
		svc.UpdateConfig(c)
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			logger.Warn().Err(err).Msg("Config watcher stopped, edits need a restart")
		}
		return nil
	})
	g.Go(func() error { return dm.Watchdog(gctx) })

	ln, err := daemon.Listener()
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring socket activation")
	}
	if (cfg.Web.Enabled && !runNoWeb) || ln != nil {
		handler := web.NewHandler(cfg, web.Options{
			Engine:   engine,
			History:  history,
			Oracle:   orc,
			OnChange: svc.RequestSave,
			Logger:   logger,
		})
		srv := web.NewServer(cfg, handler, runPort, logger)
		g.Go(func() error { return srv.Run(gctx, ln) })
	}

	dm.Ready()
	err = g.Wait()
	dm.Stopping()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Daemon stopped successfully")
	return nil
}
