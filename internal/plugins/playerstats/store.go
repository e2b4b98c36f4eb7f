package playerstats

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/voxelforge/hostdb/internal/database"
)

const playerColumns = "uuid, name, kills, deaths, playtime_seconds, last_seen"

// Store is the data access layer for player statistics. Read paths
// compose squirrel list options; write paths use the facade's builders
// and batch support.
type Store struct {
	db *database.Database
}

func NewStore(db *database.Database) *Store {
	return &Store{db: db}
}

// Get fetches one player by UUID. The bool return is false when the
// player is unknown.
func (s *Store) Get(ctx context.Context, id string) (Player, bool, error) {
	return database.QueryFirst(ctx, s.db,
		"SELECT "+playerColumns+" FROM players WHERE uuid = ?",
		mapPlayer, id)
}

// List fetches players matching the given options, default order by
// name.
func (s *Store) List(ctx context.Context, opts ...ListOption) ([]Player, error) {
	builder := sq.Select("uuid", "name", "kills", "deaths", "playtime_seconds", "last_seen").
		From("players")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	return database.Query(ctx, s.db, query, mapPlayer, args...)
}

// Count counts players matching the given options.
func (s *Store) Count(ctx context.Context, opts ...ListOption) (int64, error) {
	builder := sq.Select("COUNT(*) AS n").From("players")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	n, _, err := database.QueryFirst(ctx, s.db, query, func(row *database.Row) (int64, error) {
		return row.Int64("n")
	}, args...)
	return n, err
}

// Upsert creates the player or refreshes name and last-seen on
// conflict.
func (s *Store) Upsert(ctx context.Context, uuid, name string, seen time.Time) error {
	_, err := s.db.InsertInto("players").
		Columns("uuid", "name", "kills", "deaths", "playtime_seconds", "last_seen").
		Values(uuid, name, 0, 0, 0, seen.UTC().Format(time.RFC3339)).
		OnConflictUpdate("uuid", map[string]any{
			"name":      name,
			"last_seen": seen.UTC().Format(time.RFC3339),
		}).
		Exec(ctx)
	return err
}

// RecordKill increments the killer's kill count and the victim's death
// count atomically.
func (s *Store) RecordKill(ctx context.Context, killer, victim string) error {
	return s.db.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		txdb := s.db.WithTx(tx)
		if _, err := txdb.Update("players").
			SetExpr("kills = kills + 1").
			Where("uuid", "=", killer).
			Exec(ctx); err != nil {
			return err
		}
		_, err := txdb.Update("players").
			SetExpr("deaths = deaths + 1").
			Where("uuid", "=", victim).
			Exec(ctx)
		return err
	})
}

// FlushSessions applies ended-session deltas in one atomic batch.
func (s *Store) FlushSessions(ctx context.Context, deltas []SessionDelta) ([]int64, error) {
	paramSets := make([][]any, len(deltas))
	for i, d := range deltas {
		paramSets[i] = []any{
			d.Kills, d.Deaths, d.PlaytimeSeconds,
			d.LastSeen.UTC().Format(time.RFC3339), d.UUID,
		}
	}
	return s.db.BatchExec(ctx, `
		UPDATE players SET
			kills = kills + ?,
			deaths = deaths + ?,
			playtime_seconds = playtime_seconds + ?,
			last_seen = ?
		WHERE uuid = ?`, paramSets)
}

// Prune removes players not seen since the cutoff, returning the
// removed count.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.db.DeleteFrom("players").
		Where("last_seen", "<", cutoff.UTC().Format(time.RFC3339)).
		Exec(ctx)
}

// ListOption narrows or pages a player listing.
type ListOption func(sq.SelectBuilder) sq.SelectBuilder

func ByNames(names ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(names) == 0 {
			return b
		}
		return b.Where(sq.Eq{"name": names})
	}
}

func MinKills(n int64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.GtOrEq{"kills": n})
	}
}

func SeenSince(t time.Time) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.GtOrEq{"last_seen": t.UTC().Format(time.RFC3339)})
	}
}

func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

func WithOffset(offset uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Offset(offset)
	}
}

// WithDefaultSort orders by name ascending.
func WithDefaultSort() ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.OrderBy("name")
	}
}

// SortParam is one sort field with direction.
type SortParam struct {
	Field string
	Desc  bool
}

var sortFieldToColumn = map[string]string{
	"name":     "name",
	"kills":    "kills",
	"deaths":   "deaths",
	"playtime": "playtime_seconds",
	"lastSeen": "last_seen",
}

// WithSort applies multi-field sorting, with UUID as tie-breaker for
// stable pagination. Unknown fields are skipped.
func WithSort(sorts []SortParam) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		var clauses []string
		for _, s := range sorts {
			col, ok := sortFieldToColumn[s.Field]
			if !ok {
				continue
			}
			if s.Desc {
				clauses = append(clauses, col+" DESC")
			} else {
				clauses = append(clauses, col+" ASC")
			}
		}
		clauses = append(clauses, "uuid")
		return b.OrderBy(clauses...)
	}
}
