// Package handlers implements the diagnostics HTTP API: query and
// validation statistics, slow queries, and migration status, read
// straight off the registry's opened databases.
package handlers

import (
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/registry"
)

type Handler struct {
	registry *registry.Registry
	log      *zap.Logger
}

func New(reg *registry.Registry, log *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		log:      log.Named("handlers"),
	}
}
