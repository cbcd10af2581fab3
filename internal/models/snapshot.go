package models

import "github.com/google/uuid"

// Snapshot is the authoritative session state returned by the snapshot endpoint
// and embedded in game_state frames.
type Snapshot struct {
	ID                   uuid.UUID       `json:"id"`
	GameCode             string          `json:"game_code"`
	Status               GameStatus      `json:"status"`
	PlayerCount          int             `json:"player_count"`
	Players              []PlayerSummary `json:"players"`
	SyncMode             SyncMode        `json:"sync_mode"`
	CurrentQuestionIndex int             `json:"current_question_index"`
	TotalQuestions       int             `json:"total_questions"`
}
