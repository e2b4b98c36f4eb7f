package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/database"
)

// databaseStats bundles one plugin's query and validation aggregates.
type databaseStats struct {
	Plugin    string                  `json:"plugin"`
	Queries   database.Snapshot       `json:"queries"`
	Validator database.ValidatorStats `json:"validator"`
}

// GetStats returns query and validation statistics for every opened
// database (GET /stats).
func (h *Handler) GetStats(c *gin.Context) {
	plugins := h.registry.Plugins()
	stats := make([]databaseStats, 0, len(plugins))
	for _, name := range plugins {
		db, ok := h.registry.Lookup(name)
		if !ok {
			continue
		}
		stats = append(stats, databaseStats{
			Plugin:    name,
			Queries:   db.Statistics(),
			Validator: db.ValidatorStats(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"databases": stats})
}

// GetSlowQueries returns the bounded slow-query buffers of all opened
// databases (GET /stats/slow).
func (h *Handler) GetSlowQueries(c *gin.Context) {
	slow := make(map[string][]database.SlowQuery)
	for _, name := range h.registry.Plugins() {
		db, ok := h.registry.Lookup(name)
		if !ok {
			continue
		}
		slow[name] = db.Statistics().SlowQueries
	}
	c.JSON(http.StatusOK, gin.H{"slowQueries": slow})
}

// ResetStats clears statistics for every opened database
// (POST /stats/reset).
func (h *Handler) ResetStats(c *gin.Context) {
	for _, name := range h.registry.Plugins() {
		if db, ok := h.registry.Lookup(name); ok {
			db.ResetStatistics()
		}
	}
	h.log.Info("statistics reset via API")
	c.Status(http.StatusNoContent)
}

// GetMigrations returns applied and pending migrations for one plugin
// (GET /migrations/:plugin).
func (h *Handler) GetMigrations(c *gin.Context) {
	plugin := c.Param("plugin")
	db, ok := h.registry.Lookup(plugin)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown plugin"})
		return
	}

	ctx := c.Request.Context()
	mgr := h.registry.Migrations()

	applied, err := mgr.Applied(ctx, db)
	if err != nil {
		h.log.Error("reading applied migrations", zap.String("plugin", plugin), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read migration status"})
		return
	}
	pending, err := mgr.Pending(ctx, db)
	if err != nil {
		h.log.Error("reading pending migrations", zap.String("plugin", plugin), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read migration status"})
		return
	}

	type pendingMigration struct {
		Version     int    `json:"version"`
		Description string `json:"description"`
	}
	pendingOut := make([]pendingMigration, 0, len(pending))
	for _, m := range pending {
		pendingOut = append(pendingOut, pendingMigration{Version: m.Version(), Description: m.Description()})
	}

	c.JSON(http.StatusOK, gin.H{
		"plugin":  plugin,
		"applied": applied,
		"pending": pendingOut,
	})
}

// GetHealth probes liveness of every opened database (GET /health).
func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()
	healthy := true
	databases := make(map[string]bool)
	for _, name := range h.registry.Plugins() {
		db, ok := h.registry.Lookup(name)
		if !ok {
			continue
		}
		ok = db.Valid(ctx)
		databases[name] = ok
		healthy = healthy && ok
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "databases": databases})
}
