// internal/room/manager.go
package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/database"
	"github.com/jason-s-yu/quizsync/internal/models"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownGame   = errors.New("game not found")
	ErrUnknownQuiz   = errors.New("quiz not found")
	ErrBadNickname   = errors.New("nickname must be 1-32 characters")
	ErrCodeExhausted = errors.New("could not allocate a unique game code")
	ErrBadSyncMode   = errors.New("sync_mode must be sync or async")
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 8
	maxNickname  = 32
)

// Manager keeps the live rooms in memory and loads them from the store on demand.
type Manager struct {
	opts Options

	mu    sync.Mutex
	rooms map[uuid.UUID]*Room

	loads singleflight.Group
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:  opts.withDefaults(),
		rooms: make(map[uuid.UUID]*Room),
	}
}

// Create starts a new session of quizID hosted by hostID.
func (m *Manager) Create(ctx context.Context, hostID, quizID uuid.UUID, mode models.SyncMode) (*Room, error) {
	if mode == "" {
		mode = models.SyncModeSync
	}
	if mode != models.SyncModeSync && mode != models.SyncModeAsync {
		return nil, ErrBadSyncMode
	}

	questions, err := m.opts.Store.QuizQuestions(ctx, quizID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownQuiz
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	g := &models.Game{
		QuizID:               quizID,
		HostID:               hostID,
		Status:               models.StatusLobby,
		CurrentQuestionIndex: models.NoQuestion,
		TotalQuestions:       len(questions),
		SyncMode:             mode,
	}
	for attempt := 0; ; attempt++ {
		if attempt == codeAttempts {
			return nil, ErrCodeExhausted
		}
		g.GameCode = newGameCode()
		err = m.opts.Store.CreateGame(ctx, g)
		if errors.Is(err, database.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create game: %w", err)
		}
		break
	}

	r := newRoom(g, questions, m.opts)
	m.publish(r)
	r.log.WithField("mode", mode).Info("game created")
	return r, nil
}

// Get returns the live room for gameID, loading it from the store if needed.
func (m *Manager) Get(ctx context.Context, gameID uuid.UUID) (*Room, error) {
	if r, ok := m.lookup(gameID); ok {
		return r, nil
	}

	v, err, _ := m.loads.Do(gameID.String(), func() (interface{}, error) {
		if r, ok := m.lookup(gameID); ok {
			return r, nil
		}
		return m.load(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Snapshot returns the session state of gameID. A finished session is
// answered from the store and carries no live players.
func (m *Manager) Snapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	r, err := m.Get(ctx, gameID)
	if err == nil {
		return r.Snapshot(), nil
	}
	if !errors.Is(err, ErrFinished) {
		return models.Snapshot{}, err
	}
	g, err := m.opts.Store.GetGame(ctx, gameID)
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{
		ID:                   g.ID,
		GameCode:             g.GameCode,
		Status:               models.StatusFinished,
		Players:              []models.PlayerSummary{},
		SyncMode:             g.SyncMode,
		CurrentQuestionIndex: g.CurrentQuestionIndex,
		TotalQuestions:       g.TotalQuestions,
	}, nil
}

// Join registers a new player in the game with the given join code.
func (m *Manager) Join(ctx context.Context, code, nickname, avatar string) (*models.Player, *Room, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > maxNickname {
		return nil, nil, ErrBadNickname
	}

	g, err := m.opts.Store.GetGameByCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrUnknownGame
	}
	if err != nil {
		return nil, nil, err
	}
	r, err := m.Get(ctx, g.ID)
	if err != nil {
		return nil, nil, err
	}
	if r.Status() == models.StatusFinished {
		return nil, nil, ErrFinished
	}

	p := &models.Player{
		GameID:   g.ID,
		Nickname: nickname,
		Avatar:   avatar,
	}
	if err := r.AddPlayer(ctx, p); err != nil {
		return nil, nil, err
	}
	return p, r, nil
}

// Len returns the number of live rooms.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) lookup(id uuid.UUID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

func (m *Manager) publish(r *Room) {
	r.OnFinished = m.remove
	m.mu.Lock()
	m.rooms[r.ID] = r
	m.mu.Unlock()
}

func (m *Manager) remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.rooms, id)
	m.mu.Unlock()
	m.opts.Log.WithField("game", id).Debug("room released")
}

func (m *Manager) load(ctx context.Context, id uuid.UUID) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, err := m.opts.Store.GetGame(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownGame
	}
	if err != nil {
		return nil, err
	}
	if g.Status == models.StatusFinished {
		return nil, ErrFinished
	}
	questions, err := m.opts.Store.QuizQuestions(ctx, g.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz %s: %w", g.QuizID, err)
	}
	players, err := m.opts.Store.ListPlayers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	events, err := m.opts.Store.ScoreEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load score events: %w", err)
	}

	r := newRoom(g, questions, m.opts)
	r.Mu.Lock()
	r.restore(players, events)
	r.Mu.Unlock()
	m.publish(r)
	r.log.WithField("status", g.Status).Info("game restored from store")
	return r, nil
}

func newGameCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
