package room

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/database"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var testQuestions = []models.Question{
	{Prompt: "2+2?", Options: []string{"3", "4", "5"}, CorrectOption: 1, Points: 1000},
	{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectOption: 0, Points: 1000},
}

type fixture struct {
	store  *database.MemoryStore
	mgr    *Manager
	quizID uuid.UUID
	hostID uuid.UUID
}

func newFixture(t *testing.T, questions []models.Question, tick time.Duration) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	quizID := uuid.New()
	store.SeedQuiz(quizID, questions)
	return &fixture{
		store:  store,
		mgr:    NewManager(Options{Store: store, Log: testLogger(), Tick: tick}),
		quizID: quizID,
		hostID: uuid.New(),
	}
}

func (f *fixture) create(t *testing.T, mode models.SyncMode) *Room {
	t.Helper()
	r, err := f.mgr.Create(context.Background(), f.hostID, f.quizID, mode)
	require.NoError(t, err)
	return r
}

func (f *fixture) connectHost(t *testing.T, r *Room) *Connection {
	t.Helper()
	c := NewConnection(f.hostID, models.RoleHost, testLogger())
	require.NoError(t, r.AddConnection(c))
	expectFrame(t, c, protocol.TypeConnected)
	expectFrame(t, c, protocol.TypeGameState)
	return c
}

func (f *fixture) joinAndConnect(t *testing.T, r *Room, nickname string) (*models.Player, *Connection) {
	t.Helper()
	p, _, err := f.mgr.Join(context.Background(), r.Code, nickname, "")
	require.NoError(t, err)
	c := NewConnection(p.ID, models.RolePlayer, testLogger())
	require.NoError(t, r.AddConnection(c))
	expectFrame(t, c, protocol.TypeConnected)
	expectFrame(t, c, protocol.TypeGameState)
	return p, c
}

// expectFrame reads frames until one of type t arrives.
func expectFrame(t *testing.T, c *Connection, want protocol.MessageType) protocol.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-c.OutChan:
			if !ok {
				t.Fatalf("outbox closed while waiting for %s", want)
			}
			env, err := protocol.Decode(frame)
			require.NoError(t, err)
			if env.Type == want {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// nextFrame returns the next frame queued for c, whatever its type.
func nextFrame(t *testing.T, c *Connection) protocol.Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.OutChan:
		require.True(t, ok, "outbox closed")
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return protocol.Envelope{}
	}
}

func expectNoFrame(t *testing.T, c *Connection, unwanted protocol.MessageType) {
	t.Helper()
	for {
		select {
		case frame, ok := <-c.OutChan:
			if !ok {
				return
			}
			env, err := protocol.Decode(frame)
			require.NoError(t, err)
			assert.NotEqual(t, unwanted, env.Type)
		default:
			return
		}
	}
}

func TestPlayerConnectBroadcastsCount(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	host := f.connectHost(t, r)

	p, _ := f.joinAndConnect(t, r, "p1")

	env := expectFrame(t, host, protocol.TypePlayerConnected)
	var presence protocol.PlayerPresence
	require.NoError(t, env.Bind(&presence))
	assert.Equal(t, p.ID, presence.PlayerID)
	assert.Equal(t, "p1", presence.Nickname)
	require.NotNil(t, presence.PlayerCount)
	assert.Equal(t, 1, *presence.PlayerCount)

	snap := r.Snapshot()
	assert.Equal(t, 1, snap.PlayerCount)
	assert.Equal(t, models.StatusLobby, snap.Status)
	assert.Equal(t, models.NoQuestion, snap.CurrentQuestionIndex)
	assert.Equal(t, 2, snap.TotalQuestions)
}

func TestUnknownParticipantsRejected(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)

	err := r.AddConnection(NewConnection(uuid.New(), models.RolePlayer, testLogger()))
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	err = r.AddConnection(NewConnection(uuid.New(), models.RoleHost, testLogger()))
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestNewerConnectionSupersedesOlder(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	host := f.connectHost(t, r)
	p, first := f.joinAndConnect(t, r, "p1")
	expectFrame(t, host, protocol.TypePlayerConnected)

	second := NewConnection(p.ID, models.RolePlayer, testLogger())
	require.NoError(t, r.AddConnection(second))

	assert.True(t, first.Closed())
	code, _ := first.CloseStatus()
	assert.Equal(t, websocket.StatusNormalClosure, code)

	// The handler of the old socket cleans up late; that must not evict the new one.
	r.RemoveConnection(first)
	expectNoFrame(t, host, protocol.TypePlayerDisconnected)
	assert.Equal(t, 1, r.Snapshot().PlayerCount)

	r.RemoveConnection(second)
	env := expectFrame(t, host, protocol.TypePlayerDisconnected)
	var presence protocol.PlayerPresence
	require.NoError(t, env.Bind(&presence))
	assert.Equal(t, 0, *presence.PlayerCount)
}

func TestHostDisconnectNotifiesPlayers(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	host := f.connectHost(t, r)
	_, player := f.joinAndConnect(t, r, "p1")

	r.RemoveConnection(host)
	expectFrame(t, player, protocol.TypeHostDisconnected)
}

func TestSyncGameFlow(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	host := f.connectHost(t, r)
	p1, c1 := f.joinAndConnect(t, r, "p1")
	p2, c2 := f.joinAndConnect(t, r, "p2")

	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), ErrInvalidPhase)

	for _, c := range []*Connection{host, c1, c2} {
		var started protocol.GameStarted
		require.NoError(t, expectFrame(t, c, protocol.TypeGameStarted).Bind(&started))
		assert.Equal(t, 0, started.QuestionIndex)
		assert.Equal(t, 2, started.TotalQuestions)

		var qs protocol.QuestionStart
		require.NoError(t, expectFrame(t, c, protocol.TypeQuestionStart).Bind(&qs))
		assert.Equal(t, 0, qs.QuestionIndex)
		assert.Equal(t, "2+2?", qs.Question.Prompt)
	}

	require.NoError(t, r.SubmitAnswer(p1.ID, 0, 1))
	assert.ErrorIs(t, r.SubmitAnswer(p1.ID, 0, 1), ErrAlreadyAnswered)
	assert.ErrorIs(t, r.SubmitAnswer(p2.ID, 1, 0), ErrNotAccepting)

	var score models.ScoreEvent
	require.NoError(t, expectFrame(t, c1, protocol.TypeScoreUpdate).Bind(&score))
	assert.True(t, score.Correct)
	assert.Greater(t, score.Points, 0)
	expectFrame(t, host, protocol.TypeScoreUpdate)

	// Last connected player answering closes the question.
	require.NoError(t, r.SubmitAnswer(p2.ID, 0, 2))
	var end protocol.QuestionEnd
	require.NoError(t, expectFrame(t, c2, protocol.TypeQuestionEnd).Bind(&end))
	assert.Equal(t, 1, end.CorrectOption)
	var results protocol.Results
	require.NoError(t, expectFrame(t, host, protocol.TypeResults).Bind(&results))
	require.Len(t, results.Leaderboard, 2)
	assert.Equal(t, p1.ID, results.Leaderboard[0].ParticipantID)
	assert.Equal(t, 1, results.Leaderboard[0].Rank)
	assert.Equal(t, models.StatusResults, r.Status())

	require.NoError(t, r.Next())
	var qs protocol.QuestionStart
	require.NoError(t, expectFrame(t, c1, protocol.TypeQuestionStart).Bind(&qs))
	assert.Equal(t, 1, qs.QuestionIndex)

	// Host closes the question early.
	require.NoError(t, r.Next())
	expectFrame(t, c1, protocol.TypeResults)

	require.NoError(t, r.Next())
	var gameEnd protocol.GameEnd
	require.NoError(t, expectFrame(t, host, protocol.TypeGameEnd).Bind(&gameEnd))
	assert.Equal(t, ReasonCompleted, gameEnd.Reason)

	assert.True(t, host.Closed())
	assert.True(t, c1.Closed())
	assert.ErrorIs(t, r.Next(), ErrFinished)
	assert.Eventually(t, func() bool { return f.mgr.Len() == 0 }, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		g, err := f.store.GetGame(context.Background(), r.ID)
		return err == nil && g.Status == models.StatusFinished
	}, time.Second, 10*time.Millisecond)
	events, err := f.store.ScoreEvents(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = f.mgr.Get(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestQuestionTimerExpires(t *testing.T) {
	questions := []models.Question{
		{Prompt: "quick", Options: []string{"a", "b"}, CorrectOption: 0, TimeLimitSec: 3, Points: 100},
	}
	f := newFixture(t, questions, 10*time.Millisecond)
	r := f.create(t, models.SyncModeSync)
	host := f.connectHost(t, r)
	f.joinAndConnect(t, r, "p1")

	require.NoError(t, r.Start())

	for want := 2; want >= 0; want-- {
		var tick protocol.TimerTick
		require.NoError(t, expectFrame(t, host, protocol.TypeTimerTick).Bind(&tick))
		require.NotNil(t, tick.Remaining)
		require.NotNil(t, tick.TimeRemaining)
		assert.Equal(t, want, *tick.Remaining)
		assert.Equal(t, want, *tick.TimeRemaining)
	}
	expectFrame(t, host, protocol.TypeQuestionEnd)
	expectFrame(t, host, protocol.TypeResults)
	assert.Equal(t, models.StatusResults, r.Status())
}

func TestGameStateCarriesOpenQuestion(t *testing.T) {
	questions := []models.Question{
		{Prompt: "slow", Options: []string{"a", "b"}, CorrectOption: 0, TimeLimitSec: 30, Points: 100},
	}
	f := newFixture(t, questions, time.Second)
	r := f.create(t, models.SyncModeSync)
	f.connectHost(t, r)
	p, _ := f.joinAndConnect(t, r, "p1")
	require.NoError(t, r.Start())

	late := NewConnection(p.ID, models.RolePlayer, testLogger())
	require.NoError(t, r.AddConnection(late))
	expectFrame(t, late, protocol.TypeConnected)

	var state protocol.GameState
	require.NoError(t, expectFrame(t, late, protocol.TypeGameState).Bind(&state))
	assert.Equal(t, models.StatusQuestion, state.Status)
	assert.Equal(t, 0, state.CurrentQuestionIndex)
	require.NotNil(t, state.Question)
	assert.Equal(t, "slow", state.Question.Prompt)
	require.NotNil(t, state.TimeRemaining)
	assert.Equal(t, 30, *state.TimeRemaining)
}

func TestEndByHost(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	_, c1 := f.joinAndConnect(t, r, "p1")

	require.NoError(t, r.End())
	var end protocol.GameEnd
	require.NoError(t, expectFrame(t, c1, protocol.TypeGameEnd).Bind(&end))
	assert.Equal(t, ReasonEndedByHost, end.Reason)
	assert.ErrorIs(t, r.End(), ErrFinished)
	assert.ErrorIs(t, r.AddConnection(NewConnection(f.hostID, models.RoleHost, testLogger())), ErrFinished)
}

func TestAsyncGameFlow(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeAsync)
	host := f.connectHost(t, r)
	p1, c1 := f.joinAndConnect(t, r, "p1")

	expectFrame(t, host, protocol.TypePlayerConnected)

	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Next(), ErrAsyncMode)

	// Start is a gate: no game_started goes out in an async game.
	var hostState protocol.GameState
	hostEnv := nextFrame(t, host)
	require.Equal(t, protocol.TypeGameState, hostEnv.Type)
	require.NoError(t, hostEnv.Bind(&hostState))
	assert.Equal(t, models.StatusQuestion, hostState.Status)

	var qs protocol.QuestionStart
	playerEnv := nextFrame(t, c1)
	require.Equal(t, protocol.TypeQuestionStart, playerEnv.Type)
	require.NoError(t, playerEnv.Bind(&qs))
	assert.Equal(t, 0, qs.QuestionIndex)

	// A player joining after the gate opened starts at question 0.
	p2, _, err := f.mgr.Join(context.Background(), r.Code, "p2", "")
	require.NoError(t, err)
	c2 := NewConnection(p2.ID, models.RolePlayer, testLogger())
	require.NoError(t, r.AddConnection(c2))
	var state protocol.GameState
	require.NoError(t, expectFrame(t, c2, protocol.TypeGameState).Bind(&state))
	require.NotNil(t, state.Question)
	assert.Equal(t, 0, state.CurrentQuestionIndex)

	require.NoError(t, r.SubmitAnswer(p1.ID, 0, 1))
	expectFrame(t, c1, protocol.TypeQuestionEnd)
	expectFrame(t, c1, protocol.TypeResults)
	require.NoError(t, expectFrame(t, c1, protocol.TypeQuestionStart).Bind(&qs))
	assert.Equal(t, 1, qs.QuestionIndex)
	assert.ErrorIs(t, r.SubmitAnswer(p1.ID, 0, 1), ErrNotAccepting)

	require.NoError(t, r.SubmitAnswer(p1.ID, 1, 0))
	expectFrame(t, c1, protocol.TypeGameEnd)
	assert.Equal(t, models.StatusQuestion, r.Status(), "p2 has not finished")

	require.NoError(t, r.SubmitAnswer(p2.ID, 0, 0))
	require.NoError(t, r.SubmitAnswer(p2.ID, 1, 0))
	expectFrame(t, host, protocol.TypeGameEnd)
	assert.Equal(t, models.StatusFinished, r.Status())
}

func TestRoomRestoredFromStore(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	p1, _ := f.joinAndConnect(t, r, "p1")
	f.joinAndConnect(t, r, "p2")
	require.NoError(t, r.Start())
	require.NoError(t, r.SubmitAnswer(p1.ID, 0, 1))

	assert.Eventually(t, func() bool {
		events, _ := f.store.ScoreEvents(context.Background(), r.ID)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
	total := r.Leaderboard()[0].Score

	fresh := NewManager(Options{Store: f.store, Log: testLogger()})
	restored, err := fresh.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.NotSame(t, r, restored)
	assert.Equal(t, models.StatusQuestion, restored.Status())

	player, ok := restored.Player(p1.ID)
	require.True(t, ok)
	assert.Equal(t, total, player.Score)
	assert.ErrorIs(t, restored.SubmitAnswer(p1.ID, 0, 1), ErrAlreadyAnswered)

	again, err := fresh.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Same(t, restored, again)
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	ctx := context.Background()

	_, _, err := f.mgr.Join(ctx, r.Code, "   ", "")
	assert.ErrorIs(t, err, ErrBadNickname)
	_, _, err = f.mgr.Join(ctx, "NOPE99", "p1", "")
	assert.ErrorIs(t, err, ErrUnknownGame)

	p, joined, err := f.mgr.Join(ctx, " "+r.Code+" ", "p1", "cat")
	require.NoError(t, err)
	assert.Same(t, r, joined)
	assert.Equal(t, "cat", p.Avatar)

	_, ok := r.Player(p.ID)
	assert.True(t, ok)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, f.hostID, uuid.New(), models.SyncModeSync)
	assert.ErrorIs(t, err, ErrUnknownQuiz)
	_, err = f.mgr.Create(ctx, f.hostID, f.quizID, "bogus")
	assert.ErrorIs(t, err, ErrBadSyncMode)

	r := f.create(t, "")
	assert.Equal(t, models.SyncModeSync, r.SyncMode)
	assert.Len(t, r.Code, codeLength)
}

func TestLeaderboardSharesRankOnTies(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	base := time.Now()
	r.roster[uuid.New()] = &models.Player{Nickname: "a", Score: 50, JoinedAt: base}
	r.roster[uuid.New()] = &models.Player{Nickname: "b", Score: 50, JoinedAt: base.Add(time.Second)}
	r.roster[uuid.New()] = &models.Player{Nickname: "c", Score: 10, JoinedAt: base}

	board := r.Leaderboard()
	require.Len(t, board, 3)
	assert.Equal(t, "a", board[0].Nickname)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, 1, board[1].Rank)
	assert.Equal(t, 3, board[2].Rank)
}

func TestSnapshotOfFinishedGame(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	require.NoError(t, r.End())
	assert.Eventually(t, func() bool { return f.mgr.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		g, err := f.store.GetGame(context.Background(), r.ID)
		return err == nil && g.Status == models.StatusFinished
	}, time.Second, 10*time.Millisecond)

	snap, err := f.mgr.Snapshot(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, snap.Status)
	assert.Equal(t, r.Code, snap.GameCode)

	_, err = f.mgr.Snapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestEndRightAfterCreatePersistsEverything(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		r := f.create(t, models.SyncModeSync)
		p, _, err := f.mgr.Join(ctx, r.Code, "p1", "")
		require.NoError(t, err)
		require.NoError(t, r.Start())
		require.NoError(t, r.SubmitAnswer(p.ID, 0, 1))
		require.NoError(t, r.End())

		require.Eventually(t, func() bool {
			g, err := f.store.GetGame(ctx, r.ID)
			return err == nil && g.Status == models.StatusFinished
		}, time.Second, 5*time.Millisecond, "final progress write reaches the store")
		events, err := f.store.ScoreEvents(ctx, r.ID)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	}
	assert.Eventually(t, func() bool { return f.mgr.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSnapshotListsConnectedPlayersOnly(t *testing.T) {
	f := newFixture(t, testQuestions, time.Second)
	r := f.create(t, models.SyncModeSync)
	p1, _ := f.joinAndConnect(t, r, "p1")
	_, _, err := f.mgr.Join(context.Background(), r.Code, "p2", "")
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, 1, snap.PlayerCount)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, p1.ID, snap.Players[0].ID)
	assert.Len(t, r.Leaderboard(), 2, "the leaderboard still ranks every registered player")
}

// finishingStore ends the room from another goroutine while a player row is
// being written.
type finishingStore struct {
	*database.MemoryStore
	onAdd func()
}

func (s *finishingStore) AddPlayer(ctx context.Context, p *models.Player) error {
	if s.onAdd != nil {
		s.onAdd()
	}
	return s.MemoryStore.AddPlayer(ctx, p)
}

func TestJoinRacingEndLeavesNoOrphanPlayer(t *testing.T) {
	store := &finishingStore{MemoryStore: database.NewMemoryStore()}
	quizID := uuid.New()
	store.SeedQuiz(quizID, testQuestions)
	mgr := NewManager(Options{Store: store, Log: testLogger(), Tick: time.Second})
	ctx := context.Background()

	r, err := mgr.Create(ctx, uuid.New(), quizID, models.SyncModeSync)
	require.NoError(t, err)
	ended := make(chan error, 1)
	store.onAdd = func() {
		store.onAdd = nil
		go func() { ended <- r.End() }()
	}

	p, _, err := mgr.Join(ctx, r.Code, "late", "")
	require.NoError(t, err)
	require.NoError(t, <-ended)
	_, ok := r.Player(p.ID)
	assert.True(t, ok, "a stored player is registered in the room")

	_, _, err = mgr.Join(ctx, r.Code, "later", "")
	assert.ErrorIs(t, err, ErrFinished)
	players, err := store.ListPlayers(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, players, 1)
}
