package playerstats

import (
	"context"

	"github.com/voxelforge/hostdb/internal/database"
)

// Migrations returns the plugin's schema history in version order.
func Migrations() []database.Migration {
	return []database.Migration{
		createPlayersTable{},
		addPlaytimeColumn{},
	}
}

type createPlayersTable struct{}

func (createPlayersTable) Version() int        { return 1 }
func (createPlayersTable) Description() string { return "create players table" }

func (createPlayersTable) Apply(ctx context.Context, db *database.Database) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE players (
			uuid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kills INTEGER NOT NULL DEFAULT 0,
			deaths INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL
		)`); err != nil {
		return err
	}
	_, err := db.Exec(ctx, `CREATE INDEX idx_players_name ON players (name)`)
	return err
}

func (createPlayersTable) Revert(ctx context.Context, db *database.Database) error {
	_, err := db.Exec(ctx, `DROP TABLE IF EXISTS players`)
	return err
}

type addPlaytimeColumn struct{}

func (addPlaytimeColumn) Version() int        { return 2 }
func (addPlaytimeColumn) Description() string { return "add playtime tracking to players" }

func (addPlaytimeColumn) Apply(ctx context.Context, db *database.Database) error {
	_, err := db.Exec(ctx, `ALTER TABLE players ADD COLUMN playtime_seconds INTEGER NOT NULL DEFAULT 0`)
	return err
}

func (addPlaytimeColumn) Revert(ctx context.Context, db *database.Database) error {
	// SQLite supports dropping columns since 3.35; older engines would
	// need a table rebuild here.
	_, err := db.Exec(ctx, `ALTER TABLE players DROP COLUMN playtime_seconds`)
	return err
}
