package client

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ServerError is an application error the server reported with an error frame.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server: " + e.Message }

// Callbacks are invoked from the connection's read goroutine, or from the
// poller while disconnected. They must not block. Any of them may be nil.
type Callbacks struct {
	OnConnection       func(connected bool)
	OnPhase            func(Phase)
	OnQuestion         func(models.QuestionSnapshot)
	OnQuestionEnd      func(protocol.QuestionEnd)
	OnResults          func(protocol.Results)
	OnGameEnd          func(protocol.GameEnd)
	OnTimer            func(questionIndex, remaining int)
	OnRoster           func(count int, players []models.PlayerSummary)
	OnScore            func(models.ScoreEvent)
	OnHostDisconnected func()
	OnError            func(error)
}

// Session wires one participant's connection, dispatch table, phase mirror,
// roster and fallback poller together.
type Session struct {
	API *API

	cfg    Config
	cb     Callbacks
	log    logrus.FieldLogger
	conn   *Manager
	router *Router
	phase  *PhaseMachine
	roster *Roster
	poller *Poller

	mu       sync.Mutex
	active   bool
	shown    int // index of the last question passed to OnQuestion
	timeLeft int
	hasTime  bool
}

func NewSession(cfg Config, cb Callbacks) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		API:    NewAPI(cfg.BaseURL, cfg.HTTPClient, cfg.Token),
		cfg:    cfg,
		cb:     cb,
		log:    cfg.Logger.WithFields(logrus.Fields{"game": cfg.GameID, "role": cfg.Role}),
		phase:  NewPhaseMachine(),
		roster: NewRoster(),
		shown:  models.NoQuestion,
	}
	s.router = NewRouter(s.log)
	s.conn = NewManager(cfg, func(b []byte) { s.router.Dispatch(b) }, s.connectionChanged, s.reportError)
	s.poller = NewPoller(func(ctx context.Context) (models.Snapshot, error) {
		return s.API.Snapshot(ctx, cfg.GameID)
	}, cfg.PollInterval, s.applySnapshot, nil, s.log)
	s.register()
	return s
}

// JoinSession registers a player by join code and returns a session for them.
func JoinSession(ctx context.Context, cfg Config, code, nickname, avatar string, cb Callbacks) (*Session, error) {
	cfg = cfg.withDefaults()
	res, err := NewAPI(cfg.BaseURL, cfg.HTTPClient, nil).Join(ctx, code, nickname, avatar)
	if err != nil {
		return nil, err
	}
	cfg.Role = models.RolePlayer
	cfg.GameID = res.Game.ID
	cfg.PlayerID = res.Player.ID
	s := NewSession(cfg, cb)
	s.applySnapshot(res.Game)
	return s, nil
}

// Connect opens the connection. Polling covers the gap until it is up.
func (s *Session) Connect() error {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	if err := s.conn.Connect(); err != nil {
		return err
	}
	if !s.conn.IsConnected() && !s.phase.Finished() {
		s.poller.Start()
	}
	return nil
}

// Disconnect closes the connection and stops polling.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.conn.Disconnect()
	s.poller.Stop()
}

// Reconnect replaces the connection with a fresh one.
func (s *Session) Reconnect() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.conn.Reconnect()
}

func (s *Session) IsConnected() bool { return s.conn.IsConnected() }

// Polling reports whether the session is in degraded polling mode.
func (s *Session) Polling() bool { return s.poller.Running() }

func (s *Session) PlayerCount() int { return s.roster.Count() }

func (s *Session) Players() []models.PlayerSummary { return s.roster.Players() }

func (s *Session) Phase() Phase { return s.phase.Current() }

// TimeRemaining returns the seconds left on the open question, if known.
func (s *Session) TimeRemaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLeft, s.hasTime
}

// Manager exposes the underlying connection manager.
func (s *Session) Manager() *Manager { return s.conn }

// StartGame asks the server to start. The phase moves when the broadcast arrives.
func (s *Session) StartGame(ctx context.Context) error {
	return s.hostAction(ctx, s.API.Start)
}

func (s *Session) NextQuestion(ctx context.Context) error {
	return s.hostAction(ctx, s.API.Next)
}

func (s *Session) EndGame(ctx context.Context) error {
	return s.hostAction(ctx, s.API.End)
}

func (s *Session) hostAction(ctx context.Context, call func(context.Context, uuid.UUID) (models.Snapshot, error)) error {
	if s.cfg.Role != models.RoleHost {
		return errors.New("client: only the host can control the game")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	if _, err := call(ctx, s.cfg.GameID); err != nil {
		return err
	}
	if !s.conn.IsConnected() {
		s.Resync()
	}
	return nil
}

// SubmitAnswer sends an answer for question index. It fails fast while disconnected.
func (s *Session) SubmitAnswer(ctx context.Context, index, option int) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	return s.conn.Send(ctx, protocol.TypeAnswer, protocol.Answer{QuestionIndex: index, Option: option})
}

// Resync asks for a full snapshot, over the connection when it is up and
// through the snapshot endpoint otherwise.
func (s *Session) Resync() {
	if s.conn.IsConnected() {
		s.log.Debug("requesting state over the connection")
		s.conn.SendAsync(protocol.TypeRequestState, nil)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActionTimeout)
		defer cancel()
		if _, err := s.poller.FetchNow(ctx); err != nil {
			s.log.WithError(err).Warn("resync fetch failed")
		}
	}()
}

func (s *Session) connectionChanged(connected bool) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if connected {
		s.poller.Stop()
	} else if active && !s.phase.Finished() {
		s.poller.Start()
	}
	if s.cb.OnConnection != nil {
		s.cb.OnConnection(connected)
	}
}

func (s *Session) reportError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Session) register() {
	r := s.router
	r.Handle(s.handleConnected, protocol.TypeConnected)
	r.Handle(s.handleHostDisconnected, protocol.TypeHostDisconnected)
	r.Handle(s.handleGameStarted, protocol.TypeGameStarted)
	r.Handle(s.handleGameState, protocol.TypeGameState)
	r.Handle(s.handleQuestionStart, protocol.TypeQuestionStart)
	r.Handle(s.handleQuestionEnd, protocol.TypeQuestionEnd)
	r.Handle(s.handleResults, protocol.TypeResults)
	r.Handle(s.handleGameEnd, protocol.TypeGameEnd)
	r.Handle(s.handleTimerTick, protocol.TypeTimerTick)
	r.Handle(s.handlePlayerConnected, protocol.TypePlayerConnected, protocol.TypePlayerJoined)
	r.Handle(s.handlePlayerDisconnected, protocol.TypePlayerDisconnected, protocol.TypePlayerLeft)
	r.Handle(s.handlePlayerCount, protocol.TypePlayerCount)
	r.Handle(s.handleScoreUpdate, protocol.TypeScoreUpdate)
	r.Handle(func(protocol.Envelope) {}, protocol.TypePong)
	r.Handle(s.handleServerError, protocol.TypeError)
}

func (s *Session) bind(env protocol.Envelope, v interface{}) bool {
	if err := env.Bind(v); err != nil {
		s.log.WithError(err).Warnf("ignoring %s frame", env.Type)
		return false
	}
	return true
}

// settle acts on a phase outcome.
func (s *Session) settle(out Outcome, cause protocol.MessageType) {
	switch out {
	case Applied:
		phase := s.phase.Current()
		s.log.WithFields(logrus.Fields{
			"status":   phase.Status,
			"question": phase.QuestionIndex,
			"cause":    cause,
		}).Debug("phase changed")
		if phase.Status == models.StatusFinished {
			s.poller.Disable()
		}
		if s.cb.OnPhase != nil {
			s.cb.OnPhase(phase)
		}
	case Resync:
		s.log.WithField("cause", cause).Info("missed an update; resyncing")
		s.Resync()
	}
}

func (s *Session) handleConnected(env protocol.Envelope) {
	var m protocol.Connected
	if s.bind(env, &m) {
		s.log.WithField("participant", m.ParticipantID).Debug("server hello")
	}
}

func (s *Session) handleHostDisconnected(protocol.Envelope) {
	if s.cb.OnHostDisconnected != nil {
		s.cb.OnHostDisconnected()
	}
}

func (s *Session) handleGameStarted(env protocol.Envelope) {
	var m protocol.GameStarted
	if !s.bind(env, &m) {
		return
	}
	s.settle(s.phase.GameStarted(m.QuestionIndex, m.TotalQuestions), env.Type)
}

func (s *Session) handleGameState(env protocol.Envelope) {
	var m protocol.GameState
	if !s.bind(env, &m) {
		return
	}
	s.applyState(m.Snapshot, env.Type)

	if m.TimeRemaining != nil {
		s.setTime(*m.TimeRemaining, true)
	}
	if m.Question != nil {
		s.showQuestion(*m.Question, m.TimeRemaining == nil)
	}
}

func (s *Session) applySnapshot(snap models.Snapshot) {
	s.applyState(snap, "snapshot")
}

func (s *Session) applyState(snap models.Snapshot, cause protocol.MessageType) {
	if s.phase.Finished() {
		return
	}
	players := snap.Players
	if players == nil {
		players = []models.PlayerSummary{}
	}
	s.roster.Overwrite(snap.PlayerCount, players)
	s.rosterChanged()

	out := s.phase.Snapshot(snap.Status, snap.CurrentQuestionIndex, snap.TotalQuestions)
	if out == Applied && snap.Status != models.StatusQuestion {
		s.setTime(0, false)
	}
	s.settle(out, cause)
}

func (s *Session) handleQuestionStart(env protocol.Envelope) {
	var m protocol.QuestionStart
	if !s.bind(env, &m) {
		return
	}
	out := s.phase.QuestionStart(m.QuestionIndex)
	if out == Resync {
		s.settle(out, env.Type)
		return
	}
	if cur := s.phase.Current(); cur.Status == models.StatusQuestion && cur.QuestionIndex == m.QuestionIndex {
		s.showQuestion(m.Question, true)
	}
	s.settle(out, env.Type)
}

// showQuestion hands q to OnQuestion once per index.
func (s *Session) showQuestion(q models.QuestionSnapshot, resetTimer bool) {
	s.mu.Lock()
	if s.shown == q.Index {
		s.mu.Unlock()
		return
	}
	s.shown = q.Index
	if resetTimer {
		s.timeLeft, s.hasTime = q.TimeLimitSec, q.TimeLimitSec > 0
	}
	s.mu.Unlock()
	if s.cb.OnQuestion != nil {
		s.cb.OnQuestion(q)
	}
}

func (s *Session) setTime(seconds int, known bool) {
	s.mu.Lock()
	s.timeLeft, s.hasTime = seconds, known
	s.mu.Unlock()
}

func (s *Session) handleQuestionEnd(env protocol.Envelope) {
	var m protocol.QuestionEnd
	if !s.bind(env, &m) {
		return
	}
	out := s.phase.QuestionEnd(m.QuestionIndex)
	if out == Applied {
		s.setTime(0, false)
		if s.cb.OnQuestionEnd != nil {
			s.cb.OnQuestionEnd(m)
		}
		return
	}
	s.settle(out, env.Type)
}

func (s *Session) handleResults(env protocol.Envelope) {
	var m protocol.Results
	if !s.bind(env, &m) {
		return
	}
	out := s.phase.Results(m.QuestionIndex)
	s.settle(out, env.Type)
	if out == Applied {
		s.setTime(0, false)
		if s.cb.OnResults != nil {
			s.cb.OnResults(m)
		}
	}
}

func (s *Session) handleGameEnd(env protocol.Envelope) {
	var m protocol.GameEnd
	if !s.bind(env, &m) {
		return
	}
	out := s.phase.GameEnd()
	s.settle(out, env.Type)
	if out == Applied {
		s.setTime(0, false)
		if s.cb.OnGameEnd != nil {
			s.cb.OnGameEnd(m)
		}
	}
}

func (s *Session) handleTimerTick(env protocol.Envelope) {
	var m protocol.TimerTick
	if !s.bind(env, &m) {
		return
	}
	secs, ok := m.Seconds()
	if !ok {
		s.log.Warn("ignoring timer_tick without remaining time")
		return
	}
	if !s.phase.TimerApplies(m.QuestionIndex) {
		return
	}
	s.setTime(secs, true)
	if s.cb.OnTimer != nil {
		s.cb.OnTimer(s.phase.Current().QuestionIndex, secs)
	}
}

func (s *Session) handlePlayerConnected(env protocol.Envelope) {
	var m protocol.PlayerPresence
	if !s.bind(env, &m) {
		return
	}
	s.roster.Connected(m)
	s.rosterChanged()
}

func (s *Session) handlePlayerDisconnected(env protocol.Envelope) {
	var m protocol.PlayerPresence
	if !s.bind(env, &m) {
		return
	}
	s.roster.Disconnected(m)
	s.rosterChanged()
}

func (s *Session) handlePlayerCount(env protocol.Envelope) {
	var m protocol.PlayerCount
	if !s.bind(env, &m) {
		return
	}
	s.roster.SetCount(m.PlayerCount)
	s.rosterChanged()
}

func (s *Session) rosterChanged() {
	if s.cb.OnRoster != nil {
		s.cb.OnRoster(s.roster.Count(), s.roster.Players())
	}
}

func (s *Session) handleScoreUpdate(env protocol.Envelope) {
	var m models.ScoreEvent
	if s.bind(env, &m) && s.cb.OnScore != nil {
		s.cb.OnScore(m)
	}
}

func (s *Session) handleServerError(env protocol.Envelope) {
	var m protocol.Error
	if !s.bind(env, &m) {
		return
	}
	s.log.WithField("message", m.Message).Warn("server reported an error")
	s.reportError(&ServerError{Message: m.Message})
}
