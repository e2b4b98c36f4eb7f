// Package server hosts the diagnostics HTTP API on a Gin engine with
// zap request logging and panic recovery. Routes are registered
// through a callback so the package stays free of handler imports.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/config"
)

const shutdownTimeout = 10 * time.Second

type RegisterHandlersFn func(root *gin.Engine, api *gin.RouterGroup)

type Server struct {
	srv *http.Server
	log *zap.Logger
}

// New builds the server and hands the callback both the root router
// and the /api/v1 group: probes such as /health sit at the root,
// everything else lives under the version prefix.
func New(cfg config.Server, log *zap.Logger, register RegisterHandlersFn) *Server {
	if cfg.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(log.Named("http"), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log.Named("http"), true))

	register(router, router.Group("/api/v1"))

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the routing tree for in-process probes.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until the listener fails or Stop is called. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("diagnostics API listening", zap.String("address", s.srv.Addr))
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
