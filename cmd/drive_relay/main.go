package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/drive_relay/internal/cleanup"
	"github.com/italolelis/drive_relay/internal/config"
	"github.com/italolelis/drive_relay/internal/engine"
	"github.com/italolelis/drive_relay/internal/http/rest"
	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/notifier"
	"github.com/italolelis/drive_relay/internal/proxy"
	"github.com/italolelis/drive_relay/internal/resolver"
	"github.com/italolelis/drive_relay/internal/scheduler"
	"github.com/italolelis/drive_relay/internal/source"
	"github.com/italolelis/drive_relay/internal/source/gdrive"
	"github.com/italolelis/drive_relay/internal/source/putio"
	"github.com/italolelis/drive_relay/internal/storage"
	"github.com/italolelis/drive_relay/internal/storage/sqlite"
	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/store/memstore"
	"github.com/italolelis/drive_relay/internal/store/minio"
	"github.com/italolelis/drive_relay/internal/store/s3"
	"github.com/italolelis/drive_relay/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("drive relay starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Source and Store
	src, err := buildSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build source: %w", err)
	}

	gw, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build store: %w", err)
	}

	instrumentedSource := source.NewInstrumentedClient(src, tel, cfg.SourceDriver)
	instrumentedStore := store.NewInstrumentedGateway(gw, tel)

	// =========================================================================
	// Start Journal
	observers := []scheduler.Observer{telemetry.NewTransferObserver(tel)}

	var journal storage.JournalReadRepository

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return err
		}
		defer database.Close()

		repo := sqlite.NewInstrumentedJournalRepository(database, tel)
		journal = repo
		observers = append(observers, storage.NewJournalObserver(repo))

		setupCleanup(ctx, database, tel, cfg)
	}

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		observers = append(observers, notifier.NewTransferObserver(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)))
	}

	// =========================================================================
	// Start Scheduler
	eng := engine.New(instrumentedSource, instrumentedStore, engine.Config{
		PartSize:      int64(cfg.Transfer.PartSize),
		PartsInFlight: cfg.Transfer.PartsInFlight,
	}, tel)

	// Transfers outlive the requests that admit them, not the process.
	transferCtx, cancelTransfers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTransfers()

	sched := scheduler.New(transferCtx, eng, cfg.Transfer.MaxConcurrent, observers...)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, instrumentedSource, instrumentedStore, sched, journal)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for requests...",
		"source", cfg.SourceDriver,
		"store", cfg.Store.Driver,
		"max_concurrent", cfg.Transfer.MaxConcurrent,
		"part_size", cfg.Transfer.PartSize.String(),
		"parts_in_flight", cfg.Transfer.PartsInFlight,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// Running uploads are aborted by the engine once their context ends.
		sched.Close()
		cancelTransfers()

		if err := sched.Wait(shutdownCtx); err != nil {
			logger.Error("transfers did not stop in time", "err", err)
		}

		logger.Info("shutdown complete")

		return nil
	}
}

// This is an abstract factory for the source client.
func buildSource(ctx context.Context, cfg *config.Config) (source.Client, error) {
	switch cfg.SourceDriver {
	case config.SourceGDrive:
		c, err := gdrive.NewClient(ctx, cfg.GDriveAPIURL, cfg.GDriveAPIKey)
		if err != nil {
			return nil, err
		}

		return c, nil
	case config.SourcePutio:
		c := putio.NewClient(cfg.PutioToken)
		if err := c.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return c, nil
	}

	return nil, fmt.Errorf("invalid source driver: %s", cfg.SourceDriver)
}

// This is an abstract factory for the store gateway.
func buildStore(ctx context.Context, cfg *config.Config) (store.Gateway, error) {
	storeCfg := store.Config{
		Endpoint:  cfg.StoreEndpoint(),
		AccessKey: cfg.Store.AccessKey,
		SecretKey: cfg.Store.SecretKey,
		Bucket:    cfg.Store.Bucket,
		Region:    cfg.Store.Region,
		Secure:    cfg.Store.Secure,
	}

	switch cfg.Store.Driver {
	case config.StoreS3:
		return s3.NewClient(ctx, storeCfg)
	case config.StoreMinio:
		return minio.NewClient(storeCfg)
	case config.StoreMemory:
		logctx.LoggerFromContext(ctx).Warn("using the in-memory store, objects are lost on restart")

		return memstore.New(), nil
	}

	return nil, fmt.Errorf("invalid store driver: %s", cfg.Store.Driver)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	lookup source.Lookup,
	gw store.Gateway,
	sched *scheduler.Scheduler,
	journal storage.JournalReadRepository,
) *http.Server {
	res := resolver.New(gw)

	relay := rest.NewRelayHandler(rest.RelayConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		IDRule:        cfg.IDRule(),
	}, lookup, res, sched, proxy.New(gw, res, tel), journal)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", relay.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		// In-flight downloads drain during shutdown instead of being cut.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}

func setupCleanup(ctx context.Context, database *sql.DB, tel *telemetry.Telemetry, cfg *config.Config) {
	if cfg.JournalRetention <= 0 || cfg.CleanupInterval <= 0 {
		return
	}

	cleanup.Start(ctx, sqlite.NewInstrumentedJournalRepository(database, tel), cfg.CleanupInterval, cfg.JournalRetention)
}
