// Package playerstats is the reference plugin of the runtime: a player
// statistics tracker exercising the full database surface, from
// versioned migrations through builders, transactions and batched
// session flushes.
package playerstats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/database"
)

// PluginName keys the plugin's logical database and migration set.
const PluginName = "playerstats"

// RegisterMigrations registers the plugin's schema history with the
// shared migration manager. Call before the plugin's database is first
// opened.
func RegisterMigrations(m *database.MigrationManager) error {
	return m.Register(PluginName, Migrations()...)
}

// ListParams carries the filtering, sorting and paging of a player
// listing request.
type ListParams struct {
	Names    []string
	MinKills int64
	Sort     []SortParam
	Limit    uint64
	Offset   uint64
}

// Service is the plugin's business layer: a thin stateless facade over
// the store, translating request parameters into list options.
type Service struct {
	store *Store
	log   *zap.Logger
}

func NewService(db *database.Database, log *zap.Logger) *Service {
	return &Service{
		store: NewStore(db),
		log:   log.With(zap.String("plugin", PluginName)),
	}
}

// Touch records that the player is online now, creating the row on
// first sight.
func (s *Service) Touch(ctx context.Context, uuid, name string) error {
	return s.store.Upsert(ctx, uuid, name, time.Now())
}

// Get fetches one player by UUID.
func (s *Service) Get(ctx context.Context, uuid string) (Player, bool, error) {
	return s.store.Get(ctx, uuid)
}

// List fetches players matching params along with the total count
// before paging.
func (s *Service) List(ctx context.Context, params ListParams) ([]Player, int64, error) {
	filters := []ListOption{ByNames(params.Names...)}
	if params.MinKills > 0 {
		filters = append(filters, MinKills(params.MinKills))
	}

	total, err := s.store.Count(ctx, filters...)
	if err != nil {
		return nil, 0, err
	}

	opts := filters
	if len(params.Sort) > 0 {
		opts = append(opts, WithSort(params.Sort))
	} else {
		opts = append(opts, WithDefaultSort())
	}
	if params.Limit > 0 {
		opts = append(opts, WithLimit(params.Limit))
	}
	if params.Offset > 0 {
		opts = append(opts, WithOffset(params.Offset))
	}

	players, err := s.store.List(ctx, opts...)
	if err != nil {
		return nil, 0, err
	}
	return players, total, nil
}

// RecordKill credits killer and debits victim in one transaction.
func (s *Service) RecordKill(ctx context.Context, killer, victim string) error {
	return s.store.RecordKill(ctx, killer, victim)
}

// FlushSessions applies ended-session deltas atomically and logs the
// outcome.
func (s *Service) FlushSessions(ctx context.Context, deltas []SessionDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	counts, err := s.store.FlushSessions(ctx, deltas)
	if err != nil {
		return err
	}
	s.log.Info("session deltas flushed", zap.Int("sessions", len(counts)))
	return nil
}

// Prune removes players idle since before the retention window.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	removed, err := s.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("pruned idle players", zap.Int64("removed", removed))
	}
	return removed, nil
}
