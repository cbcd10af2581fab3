package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoreEvent is an append-only scoring fact for one answer. Events are never
// mutated; a player's current total is the Total of their latest event.
type ScoreEvent struct {
	GameID        uuid.UUID `json:"game_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	QuestionIndex int       `json:"question_index"`
	Points        int       `json:"points"`
	Total         int       `json:"total"`
	Correct       bool      `json:"correct"`
	Streak        int       `json:"streak"`
	CreatedAt     time.Time `json:"created_at"`
}
