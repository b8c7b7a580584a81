package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/coordinator"
	"zigbee-efekta/internal/devices/efekta"
	"zigbee-efekta/internal/external"
	"zigbee-efekta/internal/ncp"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/web"
	"zigbee-efekta/internal/zcl"
	"zigbee-efekta/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zigbee-efekta starting", "version", version)

	registry := zcl.NewRegistry(logger)
	clusters.RegisterStandard(registry)

	extDefs, err := external.LoadDir(cfg.DefinitionsDir, registry, logger)
	if err != nil {
		logger.Error("load definition files", "err", err)
		os.Exit(1)
	}
	defer extDefs.Close()

	definitions, err := converter.NewRegistry(append(efekta.Definitions(), extDefs.Definitions...)...)
	if err != nil {
		logger.Error("definition registry", "err", err)
		os.Exit(1)
	}
	logger.Info("definitions loaded", "clusters", len(registry.All()), "definitions", definitions.Len())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var storedKey string
	if ns, err := db.GetNetworkState(); err == nil {
		storedKey = ns.NetworkKey
	}
	network, err := cfg.networkConfig(storedKey)
	if err != nil {
		logger.Error("network config", "err", err)
		os.Exit(1)
	}

	logger.Info("using Z-Stack NCP", "port", cfg.NCP.Port, "baud", cfg.NCP.Baud)
	backend, err := ncp.NewZStackNCP(cfg.NCP.Port, cfg.NCP.Baud, logger)
	if err != nil {
		logger.Error("create NCP backend", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(backend, db, registry, definitions, events, coordinator.Config{
		Network:      network,
		ModelOptions: cfg.Options,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := coord.Start(ctx); err != nil {
		logger.Error("start coordinator", "err", err)
		cancel()
		backend.Close()
		os.Exit(1)
	}
	cancel()

	webOpts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(coord, logger, webOpts...)

	// No WriteTimeout: the WS and SSE streams are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Web.Listen,
		Handler:           webServer,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	var mdns *web.Advertiser
	if cfg.Web.MDNS {
		port, _ := listenPort(cfg.Web.Listen)
		if mdns, err = web.Advertise(cfg.Web.MDNSName, port, version, logger); err != nil {
			logger.Warn("mdns disabled", "err", err)
		}
	}

	// No-op when built with the no_mqtt tag.
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mdns.Shutdown()
	mqtt.Stop()
	webServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	coord.Stop()

	logger.Info("goodbye")
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
