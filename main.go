package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lan_presence/internal/broadcast"
	"lan_presence/internal/config"
	"lan_presence/internal/dataType"
	"lan_presence/internal/metrics"
	"lan_presence/internal/presence"
	"lan_presence/internal/registry"
	"lan_presence/internal/server"
	"lan_presence/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var basePath string
	flag.StringVar(&basePath, "prefix", "", "Config file base path")
	flag.Parse()

	// Load MainConfig
	cfg, err := config.LoadMainConfig(basePath)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	logs := utils.NewManager(cfg.LogPath, cfg.Debug)
	logger := logs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logs)
	stop()
	if err != nil {
		logger.Error("Server failed", zap.Error(err))
		_ = logs.Close()
		os.Exit(1)
	}
	logger.Info("Server stopped")
	_ = logs.Close()
}

func run(ctx context.Context, cfg *config.MainConfig, logs *utils.LogxManager) error {
	logger := logs.Logger()
	metrics.SetBuildInfo(dataType.LanPresenceVersion)

	reg, err := registry.Open(ctx, cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("Closing registry failed", zap.Error(err))
		}
	}()

	sender, err := broadcast.NewSender(cfg.Broadcast, logger)
	if err != nil {
		return err
	}
	defer sender.Close()

	svc := presence.NewService(registry.Instrument(reg), sender, presence.WithLogger(logger))
	srv, err := server.New(cfg, svc, logs)
	if err != nil {
		return err
	}

	logger.Info("Ready to start server", zap.String("port", cfg.Port), zap.String("node", cfg.NodeName))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.StartServer(gctx)
	})
	if cfg.MetricsListen != "" {
		g.Go(func() error {
			return server.StartMetricsServer(gctx, cfg.MetricsListen, logger)
		})
	}
	return g.Wait()
}
