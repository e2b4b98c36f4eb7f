// Package database implements the SQL access layer for plugin-scoped
// game data.
//
// Each plugin owns one logical database, reached through a single
// Database facade. The facade validates every statement, executes it
// on a managed connection pool (or a pinned transaction), maps result
// rows through caller-supplied mappers, and records timing aggregates.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                       Database (facade)                         │
//	├─────────────────────────────────────────────────────────────────┤
//	│  Query / QueryFirst / Exec / BatchExec / ExecuteTransaction     │
//	│  Select / InsertInto / Update / DeleteFrom  (builders)          │
//	│  *Async variants (shared or owned scheduler)                    │
//	├──────────────┬──────────────┬───────────────┬───────────────────┤
//	│  Validator   │  Statistics  │  Transaction  │  ConnectionManager│
//	│  (screening) │  (aggregates)│  Manager      │  (pool + acquire) │
//	└──────────────┴──────────────┴───────────────┴───────────────────┘
//	                                                      │
//	                                                      ▼
//	                                               database/sql pool
//
// # Statement Lifecycle
//
// Every statement, raw or built, passes through the same pipeline:
//
//	validate ──► acquire connection ──► execute ──► map rows ──► record stats
//
// Validation rejects injection-shaped text (stacked statements,
// comment markers, UNION probes, tautologies, timing functions) and
// optionally blocks dangerous structure (DROP/TRUNCATE/ALTER, DELETE
// or UPDATE without WHERE). Bound parameters are data, not SQL, and
// are only screened when parameter screening is switched on.
//
// # Row Mapping
//
// Query results are surfaced as *Row, a positional-and-named view over
// the current cursor row. A RowMapper converts each row to a domain
// value; the generic helpers collect them:
//
//	players, err := database.Query(ctx, db,
//	    "SELECT uuid, name, kills FROM players WHERE kills >= ?",
//	    mapPlayer, 10)
//
//	p, found, err := database.QueryFirst(ctx, db,
//	    "SELECT uuid, name, kills FROM players WHERE uuid = ?",
//	    mapPlayer, id)
//
// Rows are only valid inside the mapper call; the facade invalidates
// them when iteration ends.
//
// # Builders
//
// The builder family renders parametrized SQL with the invariant that
// the rendered placeholder count always equals the parameter count.
// Conditions bind their value in the same call that names the column:
//
//	rows, err := database.Rows(ctx, db.Select("uuid", "name").
//	    From("players").
//	    Where("kills", ">=", 10).
//	    And("banned", "=", false).
//	    OrderBy("kills DESC").
//	    Limit(25), mapPlayer)
//
// Operators are whitelisted; an unknown operator poisons the builder
// and surfaces as an error from ToSQL.
//
// # Transactions
//
// ExecuteTransaction borrows one connection, disables auto-commit for
// the duration, and commits or rolls back atomically. Savepoint nests
// a named scope inside an open transaction; its failure rolls back to
// the savepoint without dooming the outer work.
//
// # Migrations
//
// MigrationManager applies registered versioned migrations per plugin,
// recording each in the schema_versions ledger. A migration's DDL and
// its ledger row commit in one transaction, ascending order, first
// failure stops the run.
//
// # Asynchronous Execution
//
// The *Async variants submit work to a scheduler and return a Future
// that resolves with the operation's result. Databases may share one
// scheduler (the registry wires one per process) or own a private one.
//
// # Thread Safety
//
// Database, ConnectionManager, Validator, Statistics and
// MigrationManager are safe for concurrent use. Builders and *Row are
// not; build and map on one goroutine.
package database
