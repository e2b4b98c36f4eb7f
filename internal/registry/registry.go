// Package registry owns the per-plugin database facades. It is the
// only place logical databases are created: handlers and plugins ask
// for a facade by plugin name and the registry opens it on first use,
// runs its registered migrations, and hands the same instance back on
// every later call.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/config"
	"github.com/voxelforge/hostdb/internal/database"
	"github.com/voxelforge/hostdb/pkg/scheduler"
)

// Plugin names become file names and DSN fragments, so the charset is
// restricted up front.
var pluginNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Registry hands out one Database facade per plugin, backed by a
// process-wide scheduler for asynchronous work.
type Registry struct {
	cfg        *config.Config
	log        *zap.Logger
	sched      *scheduler.Scheduler
	migrations *database.MigrationManager

	mu        sync.Mutex
	databases map[string]*database.Database
	closed    bool
}

func New(cfg *config.Config, log *zap.Logger) *Registry {
	return &Registry{
		cfg:        cfg,
		log:        log,
		sched:      scheduler.NewScheduler(cfg.Database.Pool.Workers),
		migrations: database.NewMigrationManager(database.MigrationOptions{
			RollbackOnFailure: cfg.Migrations.RollbackOnFailure,
			SingleTransaction: cfg.Migrations.SingleTransaction,
		}, log),
		databases: make(map[string]*database.Database),
	}
}

// Migrations exposes the shared migration manager so plugins can
// register their versioned migrations before first use.
func (r *Registry) Migrations() *database.MigrationManager {
	return r.migrations
}

// ForPlugin returns the plugin's database facade, opening it on first
// call. When auto-migration is enabled, registered migrations run
// before the facade is handed out; a migration failure leaves the
// plugin unopened.
func (r *Registry) ForPlugin(ctx context.Context, plugin string) (*database.Database, error) {
	if !pluginNamePattern.MatchString(plugin) {
		return nil, fmt.Errorf("invalid plugin name %q", plugin)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}
	if db, ok := r.databases[plugin]; ok {
		return db, nil
	}

	opts, err := r.buildOptions(plugin)
	if err != nil {
		return nil, err
	}

	db, err := database.New(plugin, opts, r.sched, r.log)
	if err != nil {
		return nil, err
	}

	if r.cfg.Migrations.AutoMigrate {
		if err := r.migrations.Run(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	r.databases[plugin] = db
	r.log.Info("opened plugin database",
		zap.String("plugin", plugin),
		zap.String("driver", r.cfg.Database.Driver))
	return db, nil
}

// Plugins lists the names of all opened databases, sorted.
func (r *Registry) Plugins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.databases))
	for name := range r.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns an already-opened facade without opening one.
func (r *Registry) Lookup(plugin string) (*database.Database, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.databases[plugin]
	return db, ok
}

// Close shuts every opened facade and the shared scheduler. Later
// ForPlugin calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for name, db := range r.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database for plugin %q: %w", name, err)
		}
	}
	r.sched.Close()
	return firstErr
}

func (r *Registry) buildOptions(plugin string) (database.Options, error) {
	dbc := r.cfg.Database

	opts := database.Options{
		Driver:          dbc.Driver,
		MaxOpenConns:    dbc.Pool.MaxOpen,
		MaxIdleConns:    dbc.Pool.MaxIdle,
		ConnMaxLifetime: dbc.Pool.MaxLifetime,
		AcquireTimeout:  dbc.Pool.AcquireTimeout,
		BatchSize:       dbc.Pool.BatchSize,
		Workers:         dbc.Pool.Workers,
		Security: database.ValidatorConfig{
			Enabled:            r.cfg.Security.EnableValidation,
			BlockDangerous:     r.cfg.Security.BlockDangerous,
			ScreenParameters:   r.cfg.Security.ScreenParameters,
			MaxQueryLength:     r.cfg.Security.MaxQueryLength,
			MaxParameterLength: r.cfg.Security.MaxParameterLength,
		},
		Monitoring: database.StatisticsConfig{
			Enabled:            r.cfg.Monitoring.EnableStatistics,
			SlowQueryThreshold: r.cfg.Monitoring.SlowQueryThreshold,
			SlowQueryCapacity:  r.cfg.Monitoring.SlowQueryCapacity,
		},
	}

	switch dbc.Driver {
	case "sqlite":
		if err := os.MkdirAll(dbc.DataDir, 0o755); err != nil {
			return database.Options{}, fmt.Errorf("creating data directory %q: %w", dbc.DataDir, err)
		}
		opts.DSN = database.SQLiteDSN(filepath.Join(dbc.DataDir, plugin+".db"))
	case "mysql":
		// Each plugin gets its own schema on the shared server.
		opts.DSN = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s_%s?parseTime=true",
			dbc.User, dbc.Password, dbc.Host, dbc.Port, dbc.Name, plugin)
	case "postgres":
		opts.DSN = fmt.Sprintf("postgres://%s:%s@%s:%d/%s_%s?sslmode=disable",
			url.QueryEscape(dbc.User), url.QueryEscape(dbc.Password),
			dbc.Host, dbc.Port, dbc.Name, plugin)
	default:
		return database.Options{}, fmt.Errorf("unsupported database driver %q", dbc.Driver)
	}
	return opts, nil
}
