// Package errors defines the error taxonomy of the database layer.
//
// Every failure crossing a package boundary is one of four types:
//
//   - ConnectionAcquisitionError: the pool could not produce a usable
//     connection before the acquire timeout.
//   - QuerySecurityError: the validator rejected a query or parameter
//     before it reached the driver.
//   - DatabaseOperationError: the driver failed during execution; the
//     original driver error is preserved as the cause.
//   - MigrationError: a forward or revert migration operation failed.
//
// Callers match with the IsXxxError predicates rather than string
// comparison, so wrapping with fmt.Errorf("%w") stays safe.
package errors

import (
	"errors"
	"fmt"
)

// maxQueryLen bounds how much SQL text appears in error messages.
// Full statements belong in logs, not in errors bubbled to callers.
const maxQueryLen = 120

func truncateQuery(query string) string {
	if len(query) <= maxQueryLen {
		return query
	}
	return query[:maxQueryLen] + "..."
}

// ConnectionAcquisitionError signals that no pooled connection could be
// obtained: the pool is exhausted, the acquire timeout elapsed, or the
// backing store is unreachable. This layer does not retry; retry policy
// belongs to the caller.
type ConnectionAcquisitionError struct {
	Database string
	Err      error
}

func NewConnectionAcquisitionError(database string, err error) *ConnectionAcquisitionError {
	return &ConnectionAcquisitionError{Database: database, Err: err}
}

func (e *ConnectionAcquisitionError) Error() string {
	return fmt.Sprintf("acquiring connection for %q: %v", e.Database, e.Err)
}

func (e *ConnectionAcquisitionError) Unwrap() error { return e.Err }

func IsConnectionAcquisitionError(err error) bool {
	var t *ConnectionAcquisitionError
	return errors.As(err, &t)
}

// QuerySecurityError signals that the validator rejected a query or a
// bound parameter. The offending statement never reached the driver.
type QuerySecurityError struct {
	Reason string
	Query  string
}

func NewQuerySecurityError(reason, query string) *QuerySecurityError {
	return &QuerySecurityError{Reason: reason, Query: truncateQuery(query)}
}

func (e *QuerySecurityError) Error() string {
	return fmt.Sprintf("query blocked (%s): %s", e.Reason, e.Query)
}

func IsQuerySecurityError(err error) bool {
	var t *QuerySecurityError
	return errors.As(err, &t)
}

// DatabaseOperationError wraps a driver failure during query, update,
// batch, or transaction execution.
type DatabaseOperationError struct {
	Op    string
	Query string
	Err   error
}

func NewDatabaseOperationError(op, query string, err error) *DatabaseOperationError {
	return &DatabaseOperationError{Op: op, Query: truncateQuery(query), Err: err}
}

func (e *DatabaseOperationError) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v (query: %s)", e.Op, e.Err, e.Query)
}

func (e *DatabaseOperationError) Unwrap() error { return e.Err }

func IsDatabaseOperationError(err error) bool {
	var t *DatabaseOperationError
	return errors.As(err, &t)
}

// MigrationError signals that a migration run was aborted. Version is
// the migration that failed; higher-numbered migrations in the same run
// were not attempted.
type MigrationError struct {
	Plugin  string
	Version int
	Err     error
}

func NewMigrationError(plugin string, version int, err error) *MigrationError {
	return &MigrationError{Plugin: plugin, Version: version, Err: err}
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration v%d for plugin %q failed: %v", e.Version, e.Plugin, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func IsMigrationError(err error) bool {
	var t *MigrationError
	return errors.As(err, &t)
}
