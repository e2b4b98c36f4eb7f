package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
)

// UnitOfWork is the body of a transaction. It must confine all its
// statements to the given transaction handle.
type UnitOfWork func(tx *sql.Tx) error

// TransactionManager wraps a unit of work in begin/commit/rollback
// against one borrowed connection. State per execution:
// idle -> active -> committed | rolled back.
type TransactionManager struct {
	log *zap.Logger
}

func NewTransactionManager(log *zap.Logger) *TransactionManager {
	return &TransactionManager{log: log}
}

// Execute runs fn inside a transaction on conn. The connection's
// auto-commit flag is cleared for the duration and restored on every
// exit path, including when rollback itself fails; a rollback failure
// is attached to the returned error, never swallowed.
func (t *TransactionManager) Execute(ctx context.Context, conn *PooledConnection, fn UnitOfWork) error {
	prevAutoCommit := conn.autoCommit
	conn.autoCommit = false
	defer func() { conn.autoCommit = prevAutoCommit }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return srvErrors.NewDatabaseOperationError("begin transaction", "", err)
	}
	// Rollback after commit or an explicit rollback returns ErrTxDone.
	// This defer is what closes the Tx when fn panics; releasing the
	// connection with the Tx still open blocks on the connection lock.
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.log.Error("rollback failed after unit of work error",
				zap.Error(rbErr),
				zap.NamedError("cause", err))
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return srvErrors.NewDatabaseOperationError("commit transaction", "", err)
	}
	return nil
}

// Savepoint names are interpolated into SQL and so restricted to
// identifier characters.
var savepointName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ExecuteSavepoint runs fn under a named savepoint inside an open
// transaction. On success the savepoint is released; on failure the
// transaction is rolled back to the savepoint (not aborted) and the
// error is returned.
func (t *TransactionManager) ExecuteSavepoint(ctx context.Context, tx *sql.Tx, name string, fn func(tx *sql.Tx) error) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return srvErrors.NewDatabaseOperationError("create savepoint", name, err)
	}

	if err := fn(tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			t.log.Error("rollback to savepoint failed",
				zap.String("savepoint", name),
				zap.Error(rbErr))
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s failed: %w", name, rbErr))
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return srvErrors.NewDatabaseOperationError("release savepoint", name, err)
	}
	return nil
}
