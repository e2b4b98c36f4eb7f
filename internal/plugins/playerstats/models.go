package playerstats

import (
	"time"

	"github.com/voxelforge/hostdb/internal/database"
)

// Player is one tracked player row.
type Player struct {
	UUID            string    `json:"uuid"`
	Name            string    `json:"name"`
	Kills           int64     `json:"kills"`
	Deaths          int64     `json:"deaths"`
	PlaytimeSeconds int64     `json:"playtimeSeconds"`
	LastSeen        time.Time `json:"lastSeen"`
}

// SessionDelta is one play session's accumulated changes, flushed in
// batches when sessions end.
type SessionDelta struct {
	UUID            string
	Kills           int64
	Deaths          int64
	PlaytimeSeconds int64
	LastSeen        time.Time
}

func mapPlayer(row *database.Row) (Player, error) {
	var p Player
	var err error
	if p.UUID, err = row.String("uuid"); err != nil {
		return p, err
	}
	if p.Name, err = row.String("name"); err != nil {
		return p, err
	}
	if p.Kills, err = row.Int64("kills"); err != nil {
		return p, err
	}
	if p.Deaths, err = row.Int64("deaths"); err != nil {
		return p, err
	}
	if p.PlaytimeSeconds, err = row.Int64("playtime_seconds"); err != nil {
		return p, err
	}
	p.LastSeen, err = row.Time("last_seen")
	return p, err
}
