package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
)

// Migration is one versioned schema change for a logical database.
// Versions within a plugin are unique and strictly ordered; Apply and
// Revert run inside a transaction opened by the manager, so they must
// issue all statements through the facade they are given.
type Migration interface {
	Version() int
	Description() string
	Apply(ctx context.Context, db *Database) error
	Revert(ctx context.Context, db *Database) error
}

// SchemaVersion is one row of the schema-version ledger.
type SchemaVersion struct {
	Plugin      string    `json:"plugin"`
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"appliedAt"`
}

const (
	createLedgerTable = `
		CREATE TABLE IF NOT EXISTS schema_versions (
			plugin_name TEXT NOT NULL,
			version INTEGER NOT NULL,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			PRIMARY KEY (plugin_name, version)
		)`

	queryCurrentVersion = `SELECT COALESCE(MAX(version), 0) AS version FROM schema_versions WHERE plugin_name = ?`

	queryAppliedVersions = `
		SELECT plugin_name, version, description, applied_at
		FROM schema_versions WHERE plugin_name = ? ORDER BY version`

	insertLedgerRow = `INSERT INTO schema_versions (plugin_name, version, description, applied_at) VALUES (?, ?, ?, ?)`

	deleteLedgerRow = `DELETE FROM schema_versions WHERE plugin_name = ? AND version = ?`
)

// MigrationManager applies registered migrations exactly once per
// logical database, recording each applied version in the ledger
// table. The DDL and its ledger row commit in the same transaction, so
// a crash between the two cannot leave the schema and the ledger
// disagreeing.
type MigrationManager struct {
	log  *zap.Logger
	opts MigrationOptions

	mu         sync.Mutex
	registered map[string][]Migration
	versions   map[string]int // current-version cache, per plugin
}

// MigrationOptions controls how a run behaves on failure.
type MigrationOptions struct {
	// RollbackOnFailure attempts the failing migration's Revert before
	// rolling its transaction back.
	RollbackOnFailure bool
	// SingleTransaction applies the whole pending set in one
	// transaction, so a failure anywhere leaves no migration applied.
	SingleTransaction bool
}

func NewMigrationManager(opts MigrationOptions, log *zap.Logger) *MigrationManager {
	return &MigrationManager{
		log:        log,
		opts:       opts,
		registered: make(map[string][]Migration),
		versions:   make(map[string]int),
	}
}

// Register records the migration set of a plugin, sorted ascending by
// version. Duplicate versions are rejected: the ledger invariant (the
// applied set is a prefix of the sorted registration list) cannot hold
// with two migrations claiming one version.
func (m *MigrationManager) Register(plugin string, migrations ...Migration) error {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version() < sorted[j].Version() })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version() == sorted[i-1].Version() {
			return fmt.Errorf("plugin %q registers duplicate migration version %d", plugin, sorted[i].Version())
		}
	}

	m.mu.Lock()
	m.registered[plugin] = sorted
	m.mu.Unlock()

	m.log.Debug("migrations registered",
		zap.String("plugin", plugin),
		zap.Int("count", len(sorted)))
	return nil
}

// Run applies all pending migrations for db's plugin in ascending
// version order, each in its own transaction together with its ledger
// row. The first failure aborts the run; higher-numbered migrations
// are not attempted.
func (m *MigrationManager) Run(ctx context.Context, db *Database) error {
	plugin := db.Name()

	if err := m.ensureLedger(ctx, db); err != nil {
		return err
	}

	m.mu.Lock()
	migrations := m.registered[plugin]
	m.mu.Unlock()

	// A partial run leaves the cache stale either way.
	defer m.invalidate(plugin)

	current, err := m.lookupVersion(ctx, db)
	if err != nil {
		return err
	}

	var pending []Migration
	for _, mig := range migrations {
		if mig.Version() > current {
			pending = append(pending, mig)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if m.opts.SingleTransaction {
		err = m.applyAll(ctx, db, pending)
	} else {
		for _, mig := range pending {
			if err = m.applyOne(ctx, db, mig); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}

	m.log.Info("migrations applied",
		zap.String("plugin", plugin),
		zap.Int("count", len(pending)))
	return nil
}

// applyAll runs the whole pending set in one transaction. No Revert is
// attempted here: rolling the transaction back undoes every migration
// and ledger row at once.
func (m *MigrationManager) applyAll(ctx context.Context, db *Database, pending []Migration) error {
	plugin := db.Name()
	failed := pending[0].Version()

	err := db.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		txdb := db.withTrustedExecutor(tx)
		for _, mig := range pending {
			failed = mig.Version()
			m.log.Info("applying migration",
				zap.String("plugin", plugin),
				zap.Int("version", mig.Version()),
				zap.String("description", mig.Description()))
			if err := mig.Apply(ctx, txdb); err != nil {
				return err
			}
			if _, err := txdb.Exec(ctx, insertLedgerRow,
				plugin, mig.Version(), mig.Description(), time.Now().UTC().Format(time.RFC3339)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return srvErrors.NewMigrationError(plugin, failed, err)
	}
	return nil
}

func (m *MigrationManager) applyOne(ctx context.Context, db *Database, mig Migration) error {
	plugin := db.Name()
	m.log.Info("applying migration",
		zap.String("plugin", plugin),
		zap.Int("version", mig.Version()),
		zap.String("description", mig.Description()))

	err := db.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		txdb := db.withTrustedExecutor(tx)
		if err := mig.Apply(ctx, txdb); err != nil {
			if m.opts.RollbackOnFailure {
				// Best effort: engines without transactional DDL may
				// have left structural changes behind.
				if revErr := mig.Revert(ctx, txdb); revErr != nil {
					m.log.Warn("revert after failed migration also failed",
						zap.String("plugin", plugin),
						zap.Int("version", mig.Version()),
						zap.Error(revErr))
				}
			}
			return err
		}
		_, err := txdb.Exec(ctx, insertLedgerRow,
			plugin, mig.Version(), mig.Description(), time.Now().UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return srvErrors.NewMigrationError(plugin, mig.Version(), err)
	}
	return nil
}

// RollbackTo reverts applied migrations above target in descending
// order, removing each ledger row as its revert commits. The first
// failing revert stops the rollback; everything above it stays
// recorded as applied.
func (m *MigrationManager) RollbackTo(ctx context.Context, db *Database, target int) error {
	plugin := db.Name()

	if err := m.ensureLedger(ctx, db); err != nil {
		return err
	}
	defer m.invalidate(plugin)

	applied, err := m.Applied(ctx, db)
	if err != nil {
		return err
	}

	m.mu.Lock()
	registered := make(map[int]Migration)
	for _, mig := range m.registered[plugin] {
		registered[mig.Version()] = mig
	}
	m.mu.Unlock()

	for i := len(applied) - 1; i >= 0; i-- {
		version := applied[i].Version
		if version <= target {
			break
		}
		mig, ok := registered[version]
		if !ok {
			return srvErrors.NewMigrationError(plugin, version,
				fmt.Errorf("applied version %d has no registered migration to revert", version))
		}

		m.log.Info("reverting migration",
			zap.String("plugin", plugin),
			zap.Int("version", version))

		err := db.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
			txdb := db.withTrustedExecutor(tx)
			if err := mig.Revert(ctx, txdb); err != nil {
				return err
			}
			_, err := txdb.Exec(ctx, deleteLedgerRow, plugin, version)
			return err
		})
		if err != nil {
			return srvErrors.NewMigrationError(plugin, version, err)
		}
	}
	return nil
}

func (m *MigrationManager) invalidate(plugin string) {
	m.mu.Lock()
	delete(m.versions, plugin)
	m.mu.Unlock()
}

// CurrentVersion returns the highest applied version for db's plugin,
// 0 when none. Cached after first lookup; invalidated by Run and
// RollbackTo.
func (m *MigrationManager) CurrentVersion(ctx context.Context, db *Database) (int, error) {
	plugin := db.Name()

	m.mu.Lock()
	if v, ok := m.versions[plugin]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	if err := m.ensureLedger(ctx, db); err != nil {
		return 0, err
	}
	return m.lookupVersion(ctx, db)
}

func (m *MigrationManager) lookupVersion(ctx context.Context, db *Database) (int, error) {
	version, _, err := QueryFirst(ctx, db, queryCurrentVersion, func(row *Row) (int, error) {
		v, err := row.Int64("version")
		return int(v), err
	}, db.Name())
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.versions[db.Name()] = version
	m.mu.Unlock()
	return version, nil
}

// Applied returns the ledger rows for db's plugin in ascending version
// order.
func (m *MigrationManager) Applied(ctx context.Context, db *Database) ([]SchemaVersion, error) {
	return Query(ctx, db, queryAppliedVersions, func(row *Row) (SchemaVersion, error) {
		var sv SchemaVersion
		var err error
		if sv.Plugin, err = row.String("plugin_name"); err != nil {
			return sv, err
		}
		v, err := row.Int64("version")
		if err != nil {
			return sv, err
		}
		sv.Version = int(v)
		if sv.Description, err = row.String("description"); err != nil {
			return sv, err
		}
		sv.AppliedAt, err = row.Time("applied_at")
		return sv, err
	}, db.Name())
}

// Pending returns registered migrations for db's plugin that are not
// yet applied.
func (m *MigrationManager) Pending(ctx context.Context, db *Database) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx, db)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []Migration
	for _, mig := range m.registered[db.Name()] {
		if mig.Version() > current {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

func (m *MigrationManager) ensureLedger(ctx context.Context, db *Database) error {
	if _, err := db.Exec(ctx, createLedgerTable); err != nil {
		return fmt.Errorf("ensuring schema-version ledger: %w", err)
	}
	return nil
}
