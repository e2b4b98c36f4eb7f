package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
	"github.com/voxelforge/hostdb/pkg/scheduler"
)

// executor abstracts where a statement runs: the pool (default) or an
// open transaction (migration runs, transaction-scoped facades).
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Database is the single execution point for one logical database:
// raw parametrized query/update, builder factories, transactions,
// batches and statistics export. Safe for concurrent use; the builders
// it hands out are not.
type Database struct {
	name      string
	conns     *ConnectionManager
	txm       *TransactionManager
	validator *Validator
	stats     *Statistics
	sched     *scheduler.Scheduler
	ownSched  bool
	log       *zap.Logger
	batchSize int

	// exec, when set, pins all statements to an open transaction.
	exec executor

	// trusted skips query screening. Only migration-scoped facades are
	// trusted; their DDL is host-authored, not player input.
	trusted bool
}

// New opens the logical database named name. When sched is nil the
// database owns a scheduler sized by opts.Workers and closes it on
// Close; a shared scheduler is left to its owner.
func New(name string, opts Options, sched *scheduler.Scheduler, log *zap.Logger) (*Database, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	log = log.With(zap.String("database", name))

	stats := NewStatistics(opts.Monitoring)
	conns, err := NewConnectionManager(name, opts, stats, log)
	if err != nil {
		return nil, err
	}

	ownSched := false
	if sched == nil {
		sched = scheduler.NewScheduler(opts.Workers)
		ownSched = true
	}

	return &Database{
		name:      name,
		conns:     conns,
		txm:       NewTransactionManager(log),
		validator: NewValidator(opts.Security, log),
		stats:     stats,
		sched:     sched,
		ownSched:  ownSched,
		log:       log,
		batchSize: opts.BatchSize,
	}, nil
}

// Name returns the owning plugin's logical database name.
func (d *Database) Name() string { return d.name }

// Close shuts down the pool and, if owned, the scheduler.
func (d *Database) Close() error {
	if d.ownSched {
		d.sched.Close()
	}
	return d.conns.Close()
}

// withExecutor returns a copy of the facade whose statements run on e
// instead of acquiring pool connections. Used to scope execution to an
// open transaction.
func (d *Database) withExecutor(e executor) *Database {
	clone := *d
	clone.exec = e
	return &clone
}

// WithTx returns a facade whose statements run on the open transaction
// tx instead of acquiring pool connections. Use inside an
// ExecuteTransaction body to route builder and raw statements through
// the same transaction.
func (d *Database) WithTx(tx *sql.Tx) *Database {
	return d.withExecutor(tx)
}

// withTrustedExecutor is withExecutor with screening disabled.
// Migrations issue DDL the validator would otherwise reject.
func (d *Database) withTrustedExecutor(e executor) *Database {
	clone := d.withExecutor(e)
	clone.trusted = true
	return clone
}

// Query validates and executes a SELECT, invoking mapper once per row
// and collecting results in cursor order. The connection is released
// on every path, including mapper failures.
func Query[T any](ctx context.Context, d *Database, query string, mapper RowMapper[T], params ...any) (_ []T, err error) {
	if !d.trusted {
		if err := d.validator.ValidateQuery(query, params); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	defer func() { d.stats.RecordQuery(query, time.Since(start), err) }()

	var rows *sql.Rows
	if d.exec != nil {
		rows, err = d.exec.QueryContext(ctx, query, params...)
	} else {
		var conn *PooledConnection
		conn, err = d.conns.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer conn.Release()
		rows, err = conn.QueryContext(ctx, query, params...)
	}
	if err != nil {
		d.log.Error("query failed", zap.String("query", truncate(query, 120)), zap.Error(err))
		return nil, srvErrors.NewDatabaseOperationError("query", query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, srvErrors.NewDatabaseOperationError("query", query, err)
	}

	row := newRow(columns)
	defer row.invalidate()

	var results []T
	for i := 0; rows.Next(); i++ {
		if err = rows.Scan(row.scanTargets()...); err != nil {
			return nil, srvErrors.NewDatabaseOperationError("scan", query, err)
		}
		v, mapErr := mapper(row)
		if mapErr != nil {
			err = fmt.Errorf("mapping row %d: %w", i, mapErr)
			return nil, err
		}
		results = append(results, v)
	}
	if err = rows.Err(); err != nil {
		return nil, srvErrors.NewDatabaseOperationError("query", query, err)
	}
	return results, nil
}

// QueryFirst is Query taking the head of the result. The bool return
// is false when the result set is empty.
func QueryFirst[T any](ctx context.Context, d *Database, query string, mapper RowMapper[T], params ...any) (T, bool, error) {
	var zero T
	results, err := Query(ctx, d, query, mapper, params...)
	if err != nil {
		return zero, false, err
	}
	if len(results) == 0 {
		return zero, false, nil
	}
	return results[0], true, nil
}

// Exec validates and executes a non-SELECT statement, returning the
// affected-row count.
func (d *Database) Exec(ctx context.Context, query string, params ...any) (_ int64, err error) {
	if !d.trusted {
		if err := d.validator.ValidateQuery(query, params); err != nil {
			return 0, err
		}
	}

	start := time.Now()
	defer func() { d.stats.RecordQuery(query, time.Since(start), err) }()

	var res sql.Result
	if d.exec != nil {
		res, err = d.exec.ExecContext(ctx, query, params...)
	} else {
		var conn *PooledConnection
		conn, err = d.conns.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		defer conn.Release()
		res, err = conn.ExecContext(ctx, query, params...)
	}
	if err != nil {
		d.log.Error("update failed", zap.String("query", truncate(query, 120)), zap.Error(err))
		return 0, srvErrors.NewDatabaseOperationError("update", query, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, srvErrors.NewDatabaseOperationError("update", query, err)
	}
	return affected, nil
}

// BatchExec executes one statement once per parameter set inside a
// single transaction, in chunks of the configured batch size. The
// whole batch is atomic; the returned counts follow input order.
func (d *Database) BatchExec(ctx context.Context, query string, paramSets [][]any) (_ []int64, err error) {
	if !d.trusted {
		for _, set := range paramSets {
			if err := d.validator.ValidateQuery(query, set); err != nil {
				return nil, err
			}
		}
	}
	if len(paramSets) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() { d.stats.RecordQuery(query, time.Since(start), err) }()

	conn, err := d.conns.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	counts := make([]int64, 0, len(paramSets))
	err = d.txm.Execute(ctx, conn, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return srvErrors.NewDatabaseOperationError("batch prepare", query, err)
		}
		defer stmt.Close()

		for offset := 0; offset < len(paramSets); offset += d.batchSize {
			end := min(offset+d.batchSize, len(paramSets))
			for _, set := range paramSets[offset:end] {
				res, err := stmt.ExecContext(ctx, set...)
				if err != nil {
					return srvErrors.NewDatabaseOperationError("batch exec", query, err)
				}
				n, err := res.RowsAffected()
				if err != nil {
					return srvErrors.NewDatabaseOperationError("batch exec", query, err)
				}
				counts = append(counts, n)
			}
			d.log.Debug("batch chunk executed",
				zap.Int("from", offset),
				zap.Int("to", end),
				zap.Int("total", len(paramSets)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ExecuteTransaction runs fn atomically on one borrowed connection.
func (d *Database) ExecuteTransaction(ctx context.Context, fn UnitOfWork) error {
	conn, err := d.conns.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return d.txm.Execute(ctx, conn, fn)
}

// Savepoint runs fn under a named savepoint inside an open
// transaction; failure rolls back to the savepoint only.
func (d *Database) Savepoint(ctx context.Context, tx *sql.Tx, name string, fn func(tx *sql.Tx) error) error {
	return d.txm.ExecuteSavepoint(ctx, tx, name, fn)
}

// QueryAsync runs Query on the database's scheduler. The future's
// data is the []T produced by the mapper.
func QueryAsync[T any](d *Database, query string, mapper RowMapper[T], params ...any) *scheduler.Future[scheduler.Result[any]] {
	return d.sched.AddWork(func(workCtx context.Context) (any, error) {
		return Query(workCtx, d, query, mapper, params...)
	})
}

// ExecAsync runs Exec on the database's scheduler.
func (d *Database) ExecAsync(query string, params ...any) *scheduler.Future[scheduler.Result[any]] {
	return d.sched.AddWork(func(workCtx context.Context) (any, error) {
		return d.Exec(workCtx, query, params...)
	})
}

// BatchExecAsync runs BatchExec on the database's scheduler.
func (d *Database) BatchExecAsync(query string, paramSets [][]any) *scheduler.Future[scheduler.Result[any]] {
	return d.sched.AddWork(func(workCtx context.Context) (any, error) {
		return d.BatchExec(workCtx, query, paramSets)
	})
}

// ExecuteTransactionAsync runs fn on the scheduler; the connection is
// acquired inside the task and released before the future resolves.
func (d *Database) ExecuteTransactionAsync(fn UnitOfWork) *scheduler.Future[scheduler.Result[any]] {
	return d.sched.AddWork(func(workCtx context.Context) (any, error) {
		return nil, d.ExecuteTransaction(workCtx, fn)
	})
}

// Statistics exports a snapshot of the query aggregates.
func (d *Database) Statistics() Snapshot {
	return d.stats.Snapshot()
}

// ValidatorStats exports a snapshot of the validation counters.
func (d *Database) ValidatorStats() ValidatorStats {
	return d.validator.Stats()
}

// ResetStatistics clears the query aggregates and slow-query buffer.
func (d *Database) ResetStatistics() {
	d.stats.Reset()
}

// Valid probes liveness of the backing pool.
func (d *Database) Valid(ctx context.Context) bool {
	return d.conns.Valid(ctx)
}
