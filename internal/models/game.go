// internal/models/game.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus is the lifecycle phase of a live game session.
type GameStatus string

const (
	StatusLobby    GameStatus = "lobby"
	StatusQuestion GameStatus = "question"
	StatusResults  GameStatus = "results"
	StatusFinished GameStatus = "finished"
)

// Valid reports whether s is one of the four known phases.
func (s GameStatus) Valid() bool {
	switch s {
	case StatusLobby, StatusQuestion, StatusResults, StatusFinished:
		return true
	}
	return false
}

// SyncMode distinguishes host-paced sessions from self-paced ones.
type SyncMode string

const (
	// SyncModeSync: every player sees the same question at the same time.
	SyncModeSync SyncMode = "sync"
	// SyncModeAsync: each player advances independently once the host opens the game.
	SyncModeAsync SyncMode = "async"
)

// Role identifies which side of a session a connection belongs to.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// NoQuestion is the current question index of a session that has not started.
const NoQuestion = -1

// Game is the durable record of one live session, held by the backing store.
type Game struct {
	ID                   uuid.UUID  `json:"id"`
	GameCode             string     `json:"game_code"`
	QuizID               uuid.UUID  `json:"quiz_id"`
	HostID               uuid.UUID  `json:"host_id"`
	Status               GameStatus `json:"status"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	TotalQuestions       int        `json:"total_questions"`
	SyncMode             SyncMode   `json:"sync_mode"`
	CreatedAt            time.Time  `json:"created_at"`
}
