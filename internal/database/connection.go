package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // embedded driver; networked drivers are imported by the host's main package

	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
)

// Options configures one logical database.
type Options struct {
	// Driver is the database/sql driver name: "sqlite", "mysql" or
	// "postgres".
	Driver string

	// DSN is the driver-specific connection string. See SQLiteDSN.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration

	// BatchSize chunks batch updates to bound per-chunk memory.
	BatchSize int

	Security   ValidatorConfig
	Monitoring StatisticsConfig

	// Workers sizes the scheduler backing asynchronous variants when
	// the facade owns its scheduler.
	Workers int
}

// SQLiteDSN builds a modernc.org/sqlite DSN with the pragmas every
// logical database needs: a busy timeout against lock contention, WAL
// for concurrent readers, and foreign keys on.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
}

// ConnectionManager owns the pooled connection source of one logical
// database. database/sql provides the pool itself; this layer adds the
// acquire timeout, the pre-handout liveness probe, and gauge updates.
type ConnectionManager struct {
	name           string
	db             *sql.DB
	acquireTimeout time.Duration
	stats          *Statistics
	log            *zap.Logger
}

func NewConnectionManager(name string, opts Options, stats *Statistics, log *zap.Logger) (*ConnectionManager, error) {
	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, srvErrors.NewConnectionAcquisitionError(name, err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, srvErrors.NewConnectionAcquisitionError(name, err)
	}

	return &ConnectionManager{
		name:           name,
		db:             db,
		acquireTimeout: opts.AcquireTimeout,
		stats:          stats,
		log:            log,
	}, nil
}

// Acquire borrows one validated connection from the pool, blocking up
// to the configured acquire timeout. A connection that fails the
// liveness probe is discarded and replaced before being handed out.
func (m *ConnectionManager) Acquire(ctx context.Context) (*PooledConnection, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	conn, err := backoff.Retry(acquireCtx, func() (*sql.Conn, error) {
		c, err := m.db.Conn(acquireCtx)
		if err != nil {
			return nil, err
		}
		if err := c.PingContext(acquireCtx); err != nil {
			// Closing a conn whose ping failed drops it from the pool
			// rather than recycling it.
			_ = c.Close()
			m.log.Debug("discarded dead pooled connection",
				zap.String("database", m.name),
				zap.Error(err))
			return nil, err
		}
		return c, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return nil, srvErrors.NewConnectionAcquisitionError(m.name, err)
	}

	m.stats.RecordAcquire()
	return &PooledConnection{
		id:         uuid.New(),
		conn:       conn,
		manager:    m,
		autoCommit: true,
	}, nil
}

// Valid probes pool liveness without holding a connection.
func (m *ConnectionManager) Valid(ctx context.Context) bool {
	return m.db.PingContext(ctx) == nil
}

// Close shuts the pool down. Borrowed connections drain as they are
// released.
func (m *ConnectionManager) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("closing pool for %q: %w", m.name, err)
	}
	return nil
}

// PooledConnection is a borrowed physical connection. The borrower
// owns it exclusively between Acquire and Release and must release it
// exactly once; a second release is a logged no-op.
type PooledConnection struct {
	id         uuid.UUID
	conn       *sql.Conn
	manager    *ConnectionManager
	autoCommit bool
	released   atomic.Bool
}

// ID identifies this borrow for diagnostics.
func (p *PooledConnection) ID() uuid.UUID { return p.id }

// AutoCommit reports whether the connection is outside an explicit
// transaction.
func (p *PooledConnection) AutoCommit() bool { return p.autoCommit }

// Release returns the connection to the pool. Idempotent.
func (p *PooledConnection) Release() {
	if !p.released.CompareAndSwap(false, true) {
		p.manager.log.Warn("connection released twice",
			zap.String("database", p.manager.name),
			zap.String("connection", p.id.String()))
		return
	}
	if err := p.conn.Close(); err != nil {
		p.manager.log.Warn("returning connection to pool",
			zap.String("database", p.manager.name),
			zap.Error(err))
	}
	p.manager.stats.RecordRelease()
}

// ExecContext runs a statement on this connection.
func (p *PooledConnection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on this connection.
func (p *PooledConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.conn.QueryContext(ctx, query, args...)
}

// BeginTx opens a transaction on this connection.
func (p *PooledConnection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return p.conn.BeginTx(ctx, opts)
}
