package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sydlexius/bodyscanmock/internal/api"
	"github.com/sydlexius/bodyscanmock/internal/api/middleware"
	"github.com/sydlexius/bodyscanmock/internal/config"
	"github.com/sydlexius/bodyscanmock/internal/database"
	"github.com/sydlexius/bodyscanmock/internal/event"
	"github.com/sydlexius/bodyscanmock/internal/history"
	"github.com/sydlexius/bodyscanmock/internal/logging"
	"github.com/sydlexius/bodyscanmock/internal/results"
	"github.com/sydlexius/bodyscanmock/internal/scan"
	"github.com/sydlexius/bodyscanmock/internal/version"
	"github.com/sydlexius/bodyscanmock/internal/webhook"
	"golang.org/x/net/netutil"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "seed-results":
			if err := seedResults(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Printf("bodyscanmock %s (%s)\n", version.Version, version.Commit)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("BSM_CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// seedResults writes placeholder result files into the configured results
// directory, or into the directory given as the first argument.
func seedResults(args []string) error {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	} else {
		cfg, err := config.Load(configPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		dir = cfg.Results.Dir
	}

	created, err := results.Seed(dir)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Printf("all result files already present in %s\n", dir)
		return nil
	}
	for _, path := range created {
		fmt.Printf("created %s\n", path)
	}
	return nil
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Set up structured logging via the logging Manager
	logManager, logger := logging.NewManager(logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FilePath:       cfg.Logging.FilePath,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxFiles:   cfg.Logging.FileMaxFiles,
		FileMaxAgeDays: cfg.Logging.FileMaxAgeDays,
	})
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	// Scan history lives only as long as the process
	db, err := database.Open(database.MemoryPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	historyService := history.NewService(db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event bus fans scan lifecycle events out to history and webhooks
	eventBus := event.NewBus(logger, 256)
	busDone := make(chan struct{})
	go func() {
		eventBus.Run(ctx)
		close(busDone)
	}()
	eventBus.Subscribe(event.ScanCompleted, historyService.HandleEvent)
	var dispatcher *webhook.Dispatcher
	if len(cfg.Webhooks.URLs) > 0 {
		dispatcher = webhook.NewDispatcher(cfg.Webhooks.URLs, logger)
		eventBus.SubscribeAll(dispatcher.HandleEvent)
		logger.Info("webhooks enabled", slog.Int("count", len(cfg.Webhooks.URLs)))
	}

	machine := scan.NewMachine(
		scan.Settings{
			Duration:         cfg.Scan.Duration(),
			SupportsProgress: cfg.Scan.SupportsProgress,
			ForceFailure:     cfg.Scan.ForceFailure,
		},
		scan.Device{Connected: cfg.Device.Connected, Name: cfg.Device.Name},
		logger,
	)
	machine.SetEventBus(eventBus)

	resultStore := results.NewStore(cfg.Results.Dir, logger)
	if missing := len(scan.Formats()) - len(resultStore.Available()); missing > 0 {
		logger.Warn("result files missing; run seed-results to create placeholders",
			slog.String("dir", cfg.Results.Dir), slog.Int("missing", missing))
	}
	go resultStore.Watch(ctx)

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		rateLimiter = middleware.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	router := api.NewRouter(api.RouterDeps{
		Machine:     machine,
		Results:     resultStore,
		History:     historyService,
		LogManager:  logManager,
		RateLimiter: rateLimiter,
		Logger:      logger,
	})

	addr := cfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting bodyscanmock",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("device", cfg.Device.Name),
		slog.Bool("connected", cfg.Device.Connected),
		slog.Duration("scan_duration", cfg.Scan.Duration()),
		slog.Bool("force_failure", cfg.Scan.ForceFailure),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.Int("max_connections", cfg.Server.MaxConnections))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	stop()
	<-busDone
	if dispatcher != nil {
		if werr := dispatcher.Wait(shutdownCtx); werr != nil {
			logger.Warn("abandoning webhook deliveries", "error", werr)
		}
	}
	return err
}
