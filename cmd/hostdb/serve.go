package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/config"
	"github.com/voxelforge/hostdb/internal/handlers"
	"github.com/voxelforge/hostdb/internal/plugins/playerstats"
	"github.com/voxelforge/hostdb/internal/registry"
	"github.com/voxelforge/hostdb/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open plugin databases and serve the diagnostics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := cfg.BuildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := registry.New(cfg, log)
	defer func() { _ = reg.Close() }()

	if err := playerstats.RegisterMigrations(reg.Migrations()); err != nil {
		return err
	}
	db, err := reg.ForPlugin(ctx, playerstats.PluginName)
	if err != nil {
		return err
	}
	_ = playerstats.NewService(db, log)

	if !cfg.Server.Enabled {
		log.Info("diagnostics API disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	h := handlers.New(reg, log)
	srv := server.New(cfg.Server, log, func(root *gin.Engine, api *gin.RouterGroup) {
		root.GET("/health", h.GetHealth)
		api.GET("/stats", h.GetStats)
		api.GET("/stats/slow", h.GetSlowQueries)
		api.POST("/stats/reset", h.ResetStats)
		api.GET("/migrations/:plugin", h.GetMigrations)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := srv.Stop(context.Background()); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	return nil
}
