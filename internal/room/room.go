// internal/room/room.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/cache"
	"github.com/jason-s-yu/quizsync/internal/database"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/jason-s-yu/quizsync/internal/scoring"
	"github.com/sirupsen/logrus"
)

var (
	ErrFinished        = errors.New("game has finished")
	ErrUnknownPlayer   = errors.New("player is not registered for this game")
	ErrNotHost         = errors.New("only the host can do that")
	ErrInvalidPhase    = errors.New("action not allowed in the current phase")
	ErrNotAccepting    = errors.New("question is not accepting answers")
	ErrAlreadyAnswered = errors.New("question already answered")
	ErrAsyncMode       = errors.New("players advance on their own in an async game")
	ErrNoQuestions     = errors.New("quiz has no questions")
)

// Finish reasons carried by game_end.
const (
	ReasonCompleted   = "completed"
	ReasonEndedByHost = "ended_by_host"
)

// persistQueueSize bounds the store/recorder jobs waiting behind a room.
const persistQueueSize = 1024

// Options are the collaborators and knobs shared by every room of a Manager.
type Options struct {
	Store    database.Store
	Scorer   scoring.Scorer
	Recorder cache.Recorder
	Log      logrus.FieldLogger

	// Tick is the length of one question-timer second.
	Tick time.Duration
}

func (o Options) withDefaults() Options {
	if o.Scorer == nil {
		o.Scorer = scoring.Default
	}
	if o.Recorder == nil {
		o.Recorder = cache.NopRecorder{}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	return o
}

// progress is one player's position in an async game.
type progress struct {
	index    int
	openedAt time.Time
	answered bool
	done     bool
}

// Room is the single authority for one game session. Every mutation happens
// under Mu and every resulting frame is queued on the affected connections
// before Mu is released.
type Room struct {
	ID       uuid.UUID
	Code     string
	HostID   uuid.UUID
	QuizID   uuid.UUID
	SyncMode models.SyncMode

	// OnFinished is called once, outside the lock, after the game finishes
	// and its queued writes have reached the store.
	OnFinished func(gameID uuid.UUID)

	Mu sync.Mutex

	status    models.GameStatus
	index     int
	questions []models.Question

	host    *Connection
	players map[uuid.UUID]*Connection
	roster  map[uuid.UUID]*models.Player

	// sync mode: the open question
	answered  map[uuid.UUID]bool
	openedAt  time.Time
	remaining int
	timerGen  int

	// async mode
	progress map[uuid.UUID]*progress

	seq  int
	jobs chan func(context.Context)

	opts Options
	log  logrus.FieldLogger
}

func newRoom(g *models.Game, questions []models.Question, opts Options) *Room {
	r := &Room{
		ID:        g.ID,
		Code:      g.GameCode,
		HostID:    g.HostID,
		QuizID:    g.QuizID,
		SyncMode:  g.SyncMode,
		status:    g.Status,
		index:     g.CurrentQuestionIndex,
		questions: questions,
		players:   make(map[uuid.UUID]*Connection),
		roster:    make(map[uuid.UUID]*models.Player),
		answered:  make(map[uuid.UUID]bool),
		progress:  make(map[uuid.UUID]*progress),
		jobs:      make(chan func(context.Context), persistQueueSize),
		opts:      opts,
		log: opts.Log.WithFields(logrus.Fields{
			"game": g.ID,
			"code": g.GameCode,
		}),
	}
	if r.SyncMode == "" {
		r.SyncMode = models.SyncModeSync
	}
	if !r.status.Valid() {
		r.status = models.StatusLobby
	}
	go r.persistLoop(r.jobs)
	return r
}

// persistLoop runs store and recorder writes in the order they were queued.
// The queue is closed when the game finishes.
func (r *Room) persistLoop(jobs <-chan func(context.Context)) {
	for job := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		job(ctx)
		cancel()
	}
	if r.OnFinished != nil {
		r.OnFinished(r.ID)
	}
}

// enqueueUnsafe queues a persistence job. Assumes lock is held.
func (r *Room) enqueueUnsafe(job func(ctx context.Context)) {
	if r.jobs == nil {
		return
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Error("persist queue full, dropping job")
	}
}

// persistProgressUnsafe queues a write of the current phase. Assumes lock is held.
func (r *Room) persistProgressUnsafe() {
	status, index := r.status, r.index
	r.enqueueUnsafe(func(ctx context.Context) {
		if err := r.opts.Store.UpdateGameProgress(ctx, r.ID, status, index); err != nil {
			r.log.WithError(err).Error("failed to persist game progress")
		}
	})
}

// logEventUnsafe appends an entry to the session event log. Assumes lock is held.
func (r *Room) logEventUnsafe(actorID uuid.UUID, eventType string, payload interface{}) {
	r.seq++
	rec := models.EventRecord{
		GameID:    r.ID,
		Seq:       r.seq,
		Type:      eventType,
		ActorID:   actorID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			rec.Payload = data
		}
	}
	r.enqueueUnsafe(func(ctx context.Context) {
		if err := r.opts.Recorder.Record(ctx, rec); err != nil {
			r.log.WithError(err).WithField("event", eventType).Warn("failed to record event")
		}
	})
}

// restore loads durable player state. Called before the room is published.
func (r *Room) restore(players []models.Player, events []models.ScoreEvent) {
	for i := range players {
		p := players[i]
		r.roster[p.ID] = &p
	}
	next := make(map[uuid.UUID]int)
	for _, ev := range events {
		p, ok := r.roster[ev.ParticipantID]
		if !ok {
			continue
		}
		p.Score = ev.Total
		p.Streak = ev.Streak
		if ev.QuestionIndex+1 > next[ev.ParticipantID] {
			next[ev.ParticipantID] = ev.QuestionIndex + 1
		}
		if r.SyncMode == models.SyncModeSync && ev.QuestionIndex == r.index {
			r.answered[ev.ParticipantID] = true
		}
	}

	if r.status != models.StatusQuestion {
		return
	}
	if r.SyncMode == models.SyncModeAsync {
		for id, n := range next {
			r.progress[id] = &progress{index: n, openedAt: time.Now(), done: n >= len(r.questions)}
		}
		return
	}
	if r.index < 0 || r.index >= len(r.questions) {
		return
	}
	// The timer did not survive the restart; reopen the question with its full time.
	r.openedAt = time.Now()
	r.remaining = r.questions[r.index].TimeLimitSec
	r.startTimerUnsafe()
}

// AddPlayer stores and registers a player that joined through the join code.
// The store write happens under the lock so a finished game never gains a row.
func (r *Room) AddPlayer(ctx context.Context, p *models.Player) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.status == models.StatusFinished {
		return ErrFinished
	}
	if err := r.opts.Store.AddPlayer(ctx, p); err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	added := *p
	r.roster[p.ID] = &added
	r.logEventUnsafe(p.ID, "player_joined", map[string]interface{}{"nickname": p.Nickname})
	return nil
}

// Player returns the registered player with id.
func (r *Room) Player(id uuid.UUID) (models.Player, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	p, ok := r.roster[id]
	if !ok {
		return models.Player{}, false
	}
	return *p, true
}

// Status returns the current phase.
func (r *Room) Status() models.GameStatus {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.status
}

// AddConnection makes conn the current connection of its participant, closing
// any older one with a normal closure so it does not retry. The new connection
// receives connected and a full game_state.
func (r *Room) AddConnection(conn *Connection) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.status == models.StatusFinished {
		return ErrFinished
	}

	announce := false
	switch conn.Role {
	case models.RoleHost:
		if conn.ParticipantID != r.HostID {
			return ErrNotHost
		}
		if old := r.host; old != nil && old != conn {
			r.log.Info("host connection superseded")
			old.Close(websocket.StatusNormalClosure, "superseded by a newer connection")
		}
		r.host = conn
		r.log.Info("host connected")

	case models.RolePlayer:
		p, ok := r.roster[conn.ParticipantID]
		if !ok {
			return ErrUnknownPlayer
		}
		conn.Nickname, conn.Avatar = p.Nickname, p.Avatar
		old, reconnecting := r.players[conn.ParticipantID]
		if reconnecting && old != conn {
			r.log.WithField("player", conn.ParticipantID).Info("player connection superseded")
			old.Close(websocket.StatusNormalClosure, "superseded by a newer connection")
		}
		r.players[conn.ParticipantID] = conn
		if r.SyncMode == models.SyncModeAsync && r.status == models.StatusQuestion {
			r.openProgressUnsafe(conn.ParticipantID)
		}
		announce = !reconnecting
		r.log.WithField("player", conn.ParticipantID).Info("player connected")

	default:
		return errors.New("unknown role")
	}

	conn.Write(protocol.TypeConnected, protocol.Connected{
		GameID:        r.ID,
		ParticipantID: conn.ParticipantID,
		Role:          conn.Role,
	})
	conn.Write(protocol.TypeGameState, r.stateForUnsafe(conn))
	r.logEventUnsafe(conn.ParticipantID, "participant_connected", map[string]interface{}{"role": conn.Role})

	if announce {
		count := len(r.players)
		r.broadcastUnsafe(protocol.TypePlayerConnected, protocol.PlayerPresence{
			PlayerID:    conn.ParticipantID,
			Nickname:    conn.Nickname,
			Avatar:      conn.Avatar,
			PlayerCount: &count,
		}, conn)
	}
	return nil
}

// RemoveConnection drops conn if it is still the participant's current
// connection. Removals for superseded connections are ignored.
func (r *Room) RemoveConnection(conn *Connection) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	conn.Close(websocket.StatusNormalClosure, "")

	switch conn.Role {
	case models.RoleHost:
		if r.host != conn {
			return
		}
		r.host = nil
		r.log.Info("host disconnected")
		if r.status != models.StatusFinished {
			r.broadcastUnsafe(protocol.TypeHostDisconnected, nil, nil)
		}

	case models.RolePlayer:
		if current, ok := r.players[conn.ParticipantID]; !ok || current != conn {
			return
		}
		delete(r.players, conn.ParticipantID)
		r.log.WithField("player", conn.ParticipantID).Info("player disconnected")
		if r.status == models.StatusFinished {
			return
		}
		count := len(r.players)
		r.broadcastUnsafe(protocol.TypePlayerDisconnected, protocol.PlayerPresence{
			PlayerID:    conn.ParticipantID,
			Nickname:    conn.Nickname,
			PlayerCount: &count,
		}, nil)
		r.closeIfAllAnsweredUnsafe()
	}
	r.logEventUnsafe(conn.ParticipantID, "participant_disconnected", map[string]interface{}{"role": conn.Role})
}

// broadcastUnsafe queues one frame on the host and every player connection,
// except skip. Assumes lock is held.
func (r *Room) broadcastUnsafe(t protocol.MessageType, payload interface{}, skip *Connection) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		r.log.WithError(err).WithField("type", t).Error("encode failed")
		return
	}
	if r.host != nil && r.host != skip {
		r.host.send(t, frame)
	}
	for _, c := range r.players {
		if c != skip {
			c.send(t, frame)
		}
	}
}

// sendToPlayerUnsafe queues a frame on one player's connection, if connected.
func (r *Room) sendToPlayerUnsafe(id uuid.UUID, t protocol.MessageType, payload interface{}) {
	if c, ok := r.players[id]; ok {
		c.Write(t, payload)
	}
}

func (r *Room) sendToHostUnsafe(t protocol.MessageType, payload interface{}) {
	if r.host != nil {
		r.host.Write(t, payload)
	}
}

// Snapshot returns the authoritative session state.
func (r *Room) Snapshot() models.Snapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.snapshotUnsafe()
}

func (r *Room) snapshotUnsafe() models.Snapshot {
	players := make([]models.PlayerSummary, 0, len(r.players))
	for id := range r.players {
		if p, ok := r.roster[id]; ok {
			players = append(players, p.Summary())
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID.String() < players[j].ID.String()
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return models.Snapshot{
		ID:                   r.ID,
		GameCode:             r.Code,
		Status:               r.status,
		PlayerCount:          len(players),
		Players:              players,
		SyncMode:             r.SyncMode,
		CurrentQuestionIndex: r.index,
		TotalQuestions:       len(r.questions),
	}
}

// State returns the game_state payload for conn.
func (r *Room) State(conn *Connection) protocol.GameState {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.stateForUnsafe(conn)
}

// stateForUnsafe builds the snapshot as seen by conn. In an async game a
// player sees their own question index and phase.
func (r *Room) stateForUnsafe(conn *Connection) protocol.GameState {
	state := protocol.GameState{Snapshot: r.snapshotUnsafe()}

	if r.SyncMode == models.SyncModeAsync && conn != nil && conn.Role == models.RolePlayer && r.status == models.StatusQuestion {
		prog, ok := r.progress[conn.ParticipantID]
		if !ok {
			return state
		}
		if prog.done {
			state.Status = models.StatusFinished
			state.CurrentQuestionIndex = len(r.questions) - 1
			return state
		}
		state.CurrentQuestionIndex = prog.index
		q := r.questions[prog.index].Snapshot(prog.index)
		state.Question = &q
		return state
	}

	if r.SyncMode == models.SyncModeSync && r.status == models.StatusQuestion && r.index >= 0 && r.index < len(r.questions) {
		q := r.questions[r.index].Snapshot(r.index)
		remaining := r.remaining
		state.Question = &q
		state.TimeRemaining = &remaining
	}
	return state
}

// Leaderboard returns every registered player ranked by score.
func (r *Room) Leaderboard() []models.Standing {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.leaderboardUnsafe()
}

func (r *Room) leaderboardUnsafe() []models.Standing {
	players := make([]*models.Player, 0, len(r.roster))
	for _, p := range r.roster {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID.String() < players[j].ID.String()
	})

	board := make([]models.Standing, len(players))
	for i, p := range players {
		rank := i + 1
		if i > 0 && p.Score == board[i-1].Score {
			rank = board[i-1].Rank
		}
		board[i] = models.Standing{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
			Rank:          rank,
		}
	}
	return board
}

// Start opens the game. In a sync game it broadcasts game_started and the
// first question. In an async game nothing is broadcast: the host gets a
// fresh game_state and each connected player their own first question.
func (r *Room) Start() error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	switch r.status {
	case models.StatusFinished:
		return ErrFinished
	case models.StatusLobby:
	default:
		return ErrInvalidPhase
	}
	if len(r.questions) == 0 {
		return ErrNoQuestions
	}

	r.log.WithField("mode", r.SyncMode).Info("game started")
	r.logEventUnsafe(r.HostID, "game_started", nil)

	if r.SyncMode == models.SyncModeAsync {
		r.status = models.StatusQuestion
		r.index = 0
		r.persistProgressUnsafe()
		if r.host != nil {
			r.host.Write(protocol.TypeGameState, r.stateForUnsafe(r.host))
		}
		for id := range r.players {
			if r.openProgressUnsafe(id) {
				r.sendToPlayerUnsafe(id, protocol.TypeQuestionStart, protocol.QuestionStart{
					QuestionIndex: 0,
					Question:      r.questions[0].Snapshot(0),
				})
			}
		}
		return nil
	}

	r.broadcastUnsafe(protocol.TypeGameStarted, protocol.GameStarted{
		QuestionIndex:  0,
		TotalQuestions: len(r.questions),
		SyncMode:       r.SyncMode,
	}, nil)
	r.openQuestionUnsafe(0)
	return nil
}

// Next advances a sync game: it closes an open question, or opens the next
// one from results, finishing after the last question.
func (r *Room) Next() error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.status == models.StatusFinished {
		return ErrFinished
	}
	if r.SyncMode == models.SyncModeAsync {
		return ErrAsyncMode
	}

	switch r.status {
	case models.StatusQuestion:
		r.closeQuestionUnsafe()
	case models.StatusResults:
		if r.index+1 >= len(r.questions) {
			r.finishUnsafe(ReasonCompleted)
			return nil
		}
		r.openQuestionUnsafe(r.index + 1)
	default:
		return ErrInvalidPhase
	}
	return nil
}

// End finishes the game immediately.
func (r *Room) End() error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.status == models.StatusFinished {
		return ErrFinished
	}
	r.finishUnsafe(ReasonEndedByHost)
	return nil
}

// openQuestionUnsafe opens question idx for everyone. Assumes lock is held.
func (r *Room) openQuestionUnsafe(idx int) {
	q := r.questions[idx]
	r.status = models.StatusQuestion
	r.index = idx
	r.answered = make(map[uuid.UUID]bool)
	r.openedAt = time.Now()
	r.remaining = q.TimeLimitSec

	r.broadcastUnsafe(protocol.TypeQuestionStart, protocol.QuestionStart{
		QuestionIndex: idx,
		Question:      q.Snapshot(idx),
	}, nil)
	r.persistProgressUnsafe()
	r.logEventUnsafe(uuid.Nil, "question_start", map[string]interface{}{"question_index": idx})
	r.startTimerUnsafe()
}

// startTimerUnsafe starts the countdown of the open question. Questions without
// a time limit stay open until the host advances. Assumes lock is held.
func (r *Room) startTimerUnsafe() {
	r.timerGen++
	if r.remaining <= 0 {
		return
	}
	go r.runTimer(r.timerGen, r.index)
}

func (r *Room) runTimer(gen, index int) {
	ticker := time.NewTicker(r.opts.Tick)
	defer ticker.Stop()

	for range ticker.C {
		r.Mu.Lock()
		// A newer question or a close stopped this timer.
		if r.timerGen != gen || r.status != models.StatusQuestion || r.index != index {
			r.Mu.Unlock()
			return
		}
		r.remaining--
		if r.remaining < 0 {
			r.remaining = 0
		}
		r.broadcastUnsafe(protocol.TypeTimerTick, protocol.NewTimerTick(index, r.remaining), nil)
		if r.remaining == 0 {
			r.log.WithField("question", index).Debug("question timed out")
			r.closeQuestionUnsafe()
			r.Mu.Unlock()
			return
		}
		r.Mu.Unlock()
	}
}

// closeQuestionUnsafe reveals the answer and the leaderboard. Assumes lock is held.
func (r *Room) closeQuestionUnsafe() {
	r.timerGen++
	r.status = models.StatusResults
	idx := r.index

	r.broadcastUnsafe(protocol.TypeQuestionEnd, protocol.QuestionEnd{
		QuestionIndex: idx,
		CorrectOption: r.questions[idx].CorrectOption,
	}, nil)
	r.broadcastUnsafe(protocol.TypeResults, protocol.Results{
		QuestionIndex: idx,
		Leaderboard:   r.leaderboardUnsafe(),
	}, nil)
	r.persistProgressUnsafe()
	r.logEventUnsafe(uuid.Nil, "question_end", map[string]interface{}{"question_index": idx})
}

// closeIfAllAnsweredUnsafe closes the open sync question once every connected
// player has answered. Assumes lock is held.
func (r *Room) closeIfAllAnsweredUnsafe() {
	if r.SyncMode != models.SyncModeSync || r.status != models.StatusQuestion || len(r.players) == 0 {
		return
	}
	for id := range r.players {
		if !r.answered[id] {
			return
		}
	}
	r.closeQuestionUnsafe()
}

// finishUnsafe ends the game, closes every connection and releases the room.
// Assumes lock is held.
func (r *Room) finishUnsafe(reason string) {
	r.timerGen++
	r.status = models.StatusFinished
	r.log.WithField("reason", reason).Info("game finished")

	r.broadcastUnsafe(protocol.TypeGameEnd, protocol.GameEnd{
		Leaderboard: r.leaderboardUnsafe(),
		Reason:      reason,
	}, nil)
	r.persistProgressUnsafe()
	r.logEventUnsafe(uuid.Nil, "game_end", map[string]interface{}{"reason": reason})

	if r.host != nil {
		r.host.Close(websocket.StatusNormalClosure, "game finished")
		r.host = nil
	}
	for id, c := range r.players {
		c.Close(websocket.StatusNormalClosure, "game finished")
		delete(r.players, id)
	}

	close(r.jobs)
	r.jobs = nil
}

// openProgressUnsafe starts a player on the first question of an async game.
// It reports false if the player already has progress. Assumes lock is held.
func (r *Room) openProgressUnsafe(id uuid.UUID) bool {
	if _, ok := r.progress[id]; ok {
		return false
	}
	r.progress[id] = &progress{index: 0, openedAt: time.Now()}
	return true
}

// SubmitAnswer grades one answer. Each player answers each question once.
func (r *Room) SubmitAnswer(playerID uuid.UUID, questionIndex, option int) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.status == models.StatusFinished {
		return ErrFinished
	}
	p, ok := r.roster[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	if r.SyncMode == models.SyncModeAsync {
		return r.submitAsyncUnsafe(p, questionIndex, option)
	}

	if r.status != models.StatusQuestion || questionIndex != r.index {
		return ErrNotAccepting
	}
	if r.answered[playerID] {
		return ErrAlreadyAnswered
	}
	r.answered[playerID] = true
	r.gradeUnsafe(p, questionIndex, option, time.Since(r.openedAt))
	r.closeIfAllAnsweredUnsafe()
	return nil
}

func (r *Room) submitAsyncUnsafe(p *models.Player, questionIndex, option int) error {
	if r.status != models.StatusQuestion {
		return ErrNotAccepting
	}
	prog, ok := r.progress[p.ID]
	if !ok || prog.done || prog.index != questionIndex {
		return ErrNotAccepting
	}
	if prog.answered {
		return ErrAlreadyAnswered
	}
	prog.answered = true
	r.gradeUnsafe(p, questionIndex, option, time.Since(prog.openedAt))

	r.sendToPlayerUnsafe(p.ID, protocol.TypeQuestionEnd, protocol.QuestionEnd{
		QuestionIndex: questionIndex,
		CorrectOption: r.questions[questionIndex].CorrectOption,
	})
	board := r.leaderboardUnsafe()
	r.sendToPlayerUnsafe(p.ID, protocol.TypeResults, protocol.Results{
		QuestionIndex: questionIndex,
		Leaderboard:   board,
	})

	if questionIndex+1 >= len(r.questions) {
		prog.done = true
		r.sendToPlayerUnsafe(p.ID, protocol.TypeGameEnd, protocol.GameEnd{
			Leaderboard: board,
			Reason:      ReasonCompleted,
		})
		if r.allDoneUnsafe() {
			r.finishUnsafe(ReasonCompleted)
		}
		return nil
	}

	next := questionIndex + 1
	prog.index = next
	prog.answered = false
	prog.openedAt = time.Now()
	r.sendToPlayerUnsafe(p.ID, protocol.TypeQuestionStart, protocol.QuestionStart{
		QuestionIndex: next,
		Question:      r.questions[next].Snapshot(next),
	})
	return nil
}

func (r *Room) allDoneUnsafe() bool {
	for id := range r.roster {
		prog, ok := r.progress[id]
		if !ok || !prog.done {
			return false
		}
	}
	return true
}

// gradeUnsafe scores an answer, appends the score event and notifies the
// player and the host. Assumes lock is held.
func (r *Room) gradeUnsafe(p *models.Player, questionIndex, option int, elapsed time.Duration) {
	// Scale to timer seconds so a shortened Tick grades the same.
	elapsed = time.Duration(float64(elapsed) * float64(time.Second) / float64(r.opts.Tick))
	res := r.opts.Scorer.Score(r.questions[questionIndex], option, elapsed, p.Streak)

	p.Score += res.Points
	p.Streak = res.Streak
	ev := models.ScoreEvent{
		GameID:        r.ID,
		ParticipantID: p.ID,
		QuestionIndex: questionIndex,
		Points:        res.Points,
		Total:         p.Score,
		Correct:       res.Correct,
		Streak:        res.Streak,
		CreatedAt:     time.Now(),
	}
	r.enqueueUnsafe(func(ctx context.Context) {
		if err := r.opts.Store.AppendScoreEvent(ctx, ev); err != nil {
			r.log.WithError(err).Error("failed to append score event")
		}
	})
	r.logEventUnsafe(p.ID, "answer", ev)

	r.sendToPlayerUnsafe(p.ID, protocol.TypeScoreUpdate, ev)
	r.sendToHostUnsafe(protocol.TypeScoreUpdate, ev)
}
