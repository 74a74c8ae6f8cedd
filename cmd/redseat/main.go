package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/redseat/internal/config"
	"github.com/mantonx/redseat/internal/database"
	"github.com/mantonx/redseat/internal/events"
	"github.com/mantonx/redseat/internal/logger"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	"github.com/mantonx/redseat/internal/modules/requestmodule"
	"github.com/mantonx/redseat/internal/modules/sourcemodule"
	"github.com/mantonx/redseat/internal/modules/videoconvertmodule"
	"github.com/mantonx/redseat/internal/outbound"
	"github.com/mantonx/redseat/internal/remotezip"
	"github.com/mantonx/redseat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := os.Getenv("REDSEAT_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./redseat.yaml"); err == nil {
			configPath = "./redseat.yaml"
		}
	}

	loadErr := config.Load(configPath)
	cfg := config.Get()

	log := logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if loadErr != nil {
		log.Error("failed to load configuration", "path", configPath, "error", loadErr)
		os.Exit(1)
	}
	log.Info("configuration loaded", "path", configPath)

	if err := run(cfg); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server shutdown complete")
}

func run(cfg *config.Config) error {
	log := logger.Root()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Initialize(cfg.Database, log.Named("database"))
	if err != nil {
		return err
	}

	bus := events.NewBus(events.DefaultEventBusConfig(), log)
	if err := bus.Start(ctx); err != nil {
		return err
	}
	defer bus.Stop()

	launcher := pluginmodule.NewLauncher(cfg.Plugins.StartTimeout, cfg.Logging.Level, log)
	registry := pluginmodule.NewRegistry(cfg.Plugins.PluginDir, launcher, log)
	defer registry.Shutdown()

	if _, err := registry.Discover(ctx); err != nil {
		log.Warn("plugin discovery failed", "error", err)
	}
	go registry.WatchProcesses(ctx)

	if cfg.Plugins.EnableHotReload {
		reloader, err := pluginmodule.NewHotReloader(registry, cfg.Plugins.DebounceDelay, log)
		if err != nil {
			log.Warn("hot reload unavailable", "error", err)
		} else if err := reloader.Start(ctx); err != nil {
			log.Warn("hot reload failed to start", "error", err)
		} else {
			defer reloader.Stop()
		}
	}

	dispatcher := pluginmodule.NewDispatcher(registry, cfg.Plugins.CallTimeout, log)
	pluginStore := pluginmodule.NewGormPluginStore(db)
	pluginSvc := pluginmodule.NewService(pluginStore, registry, dispatcher, log)
	sources := sourcemodule.NewRegistry(sourcemodule.NewGormLibraryStore(db), pluginStore, dispatcher)

	client := outbound.New(cfg.Outbound, log)
	extractor := remotezip.NewExtractor(remotezip.NewHTTPFetcher(client, cfg.Outbound.Timeout), log)
	resolver := requestmodule.NewResolver(pluginSvc, sources, client, extractor, log)

	tracker := requestmodule.NewTracker(requestmodule.NewGormStore(db), pluginSvc, resolver, bus, cfg.Requests, log)
	scheduler := requestmodule.NewScheduler(tracker, sources, cfg.Requests.ReconcileInterval, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := server.New(*cfg, server.Deps{
		DB:           db,
		Plugins:      pluginSvc,
		Resolver:     resolver,
		Tracker:      tracker,
		VideoConvert: videoconvertmodule.NewOrchestrator(pluginSvc, log),
		Events:       bus,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
