// internal/database/memory.go
package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
)

// MemoryStore keeps everything in process. Used by tests and by the server when
// no DATABASE_URL is configured.
type MemoryStore struct {
	mu      sync.Mutex
	games   map[uuid.UUID]models.Game
	codes   map[string]uuid.UUID
	players map[uuid.UUID]map[uuid.UUID]models.Player
	quizzes map[uuid.UUID][]models.Question
	scores  map[uuid.UUID][]models.ScoreEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:   make(map[uuid.UUID]models.Game),
		codes:   make(map[string]uuid.UUID),
		players: make(map[uuid.UUID]map[uuid.UUID]models.Player),
		quizzes: make(map[uuid.UUID][]models.Question),
		scores:  make(map[uuid.UUID][]models.ScoreEvent),
	}
}

// SeedQuiz registers the questions of a quiz.
func (s *MemoryStore) SeedQuiz(quizID uuid.UUID, questions []models.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := make([]models.Question, len(questions))
	copy(qs, questions)
	s.quizzes[quizID] = qs
}

func (s *MemoryStore) CreateGame(_ context.Context, g *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := strings.ToUpper(g.GameCode)
	if _, taken := s.codes[code]; taken {
		return ErrDuplicateCode
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.GameCode = code
	s.games[g.ID] = *g
	s.codes[code] = g.ID
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (s *MemoryStore) GetGameByCode(_ context.Context, code string) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codes[strings.ToUpper(code)]
	if !ok {
		return nil, ErrNotFound
	}
	g := s.games[id]
	return &g, nil
}

func (s *MemoryStore) UpdateGameProgress(_ context.Context, id uuid.UUID, status models.GameStatus, questionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return ErrNotFound
	}
	g.Status = status
	g.CurrentQuestionIndex = questionIndex
	s.games[id] = g
	return nil
}

func (s *MemoryStore) AddPlayer(_ context.Context, p *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[p.GameID]; !ok {
		return ErrNotFound
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	if s.players[p.GameID] == nil {
		s.players[p.GameID] = make(map[uuid.UUID]models.Player)
	}
	s.players[p.GameID][p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, gameID, playerID uuid.UUID) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[gameID][playerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, gameID uuid.UUID) ([]models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Player, 0, len(s.players[gameID]))
	for _, p := range s.players[gameID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) QuizQuestions(_ context.Context, quizID uuid.UUID) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs, ok := s.quizzes[quizID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (s *MemoryStore) AppendScoreEvent(_ context.Context, ev models.ScoreEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[ev.GameID] = append(s.scores[ev.GameID], ev)
	return nil
}

func (s *MemoryStore) ScoreEvents(_ context.Context, gameID uuid.UUID) ([]models.ScoreEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScoreEvent, len(s.scores[gameID]))
	copy(out, s.scores[gameID])
	return out, nil
}
