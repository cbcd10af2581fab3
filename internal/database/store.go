// internal/database/store.go
package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
)

var (
	// ErrNotFound is returned when a game, player or quiz does not exist.
	ErrNotFound = errors.New("database: record not found")
	// ErrDuplicateCode is returned when a game code is already taken.
	ErrDuplicateCode = errors.New("database: game code already in use")
)

// Store is the backing store for game sessions, players and score events.
// Rooms hold the live copy; the store holds the record of truth across restarts.
type Store interface {
	CreateGame(ctx context.Context, g *models.Game) error
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	UpdateGameProgress(ctx context.Context, id uuid.UUID, status models.GameStatus, questionIndex int) error

	AddPlayer(ctx context.Context, p *models.Player) error
	GetPlayer(ctx context.Context, gameID, playerID uuid.UUID) (*models.Player, error)
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)

	QuizQuestions(ctx context.Context, quizID uuid.UUID) ([]models.Question, error)

	AppendScoreEvent(ctx context.Context, ev models.ScoreEvent) error
	ScoreEvents(ctx context.Context, gameID uuid.UUID) ([]models.ScoreEvent, error)
}
