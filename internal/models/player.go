package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is an anonymous participant registered against a game via its join code.
// The record outlives any number of connections.
type Player struct {
	ID       uuid.UUID `json:"id"`
	GameID   uuid.UUID `json:"game_id"`
	Nickname string    `json:"nickname"`
	Avatar   string    `json:"avatar,omitempty"`
	JoinedAt time.Time `json:"joined_at"`

	Score  int `json:"score"`
	Streak int `json:"streak"`
}

// Summary returns the roster view of the player.
func (p Player) Summary() PlayerSummary {
	return PlayerSummary{
		ID:       p.ID,
		Nickname: p.Nickname,
		Avatar:   p.Avatar,
		JoinedAt: p.JoinedAt,
	}
}

// PlayerSummary is the roster entry carried by snapshots and presence events.
type PlayerSummary struct {
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname"`
	Avatar   string    `json:"avatar,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// Standing is one leaderboard row.
type Standing struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Nickname      string    `json:"nickname"`
	Score         int       `json:"score"`
	Rank          int       `json:"rank"`
}
