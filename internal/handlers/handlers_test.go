package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/auth"
	"github.com/jason-s-yu/quizsync/internal/database"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/jason-s-yu/quizsync/internal/room"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quizQuestions = []models.Question{
	{Prompt: "2+2?", Options: []string{"3", "4"}, CorrectOption: 1, Points: 1000},
	{Prompt: "Largest planet?", Options: []string{"Mars", "Jupiter", "Venus"}, CorrectOption: 1, Points: 1000},
}

type testEnv struct {
	srv    *httptest.Server
	store  *database.MemoryStore
	quizID uuid.UUID
	hostID uuid.UUID
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, auth.Init())
	logger, _ := test.NewNullLogger()

	store := database.NewMemoryStore()
	quizID := uuid.New()
	store.SeedQuiz(quizID, quizQuestions)

	mgr := room.NewManager(room.Options{Store: store, Log: logger})
	gs := NewGameServer(mgr, logger, time.Second)
	srv := httptest.NewServer(gs.Router())
	t.Cleanup(srv.Close)

	hostID := uuid.New()
	token, err := auth.CreateHostJWT(hostID)
	require.NoError(t, err)
	return &testEnv{srv: srv, store: store, quizID: quizID, hostID: hostID, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *testEnv) createGame(t *testing.T, mode models.SyncMode) models.Snapshot {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/games", e.token, map[string]interface{}{"quiz_id": e.quizID, "sync_mode": mode})
	require.Equal(t, http.StatusCreated, status, string(body))
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

func (e *testEnv) wsURL(gameID uuid.UUID, role, query string) string {
	return strings.Replace(e.srv.URL, "http", "ws", 1) + "/ws/game/" + gameID.String() + "/" + role + "?" + query
}

func dial(t *testing.T, url string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: subprotocols})
}

func readFrame(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestCreateGameRequiresHostToken(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]interface{}{"quiz_id": env.quizID}

	status, _ := env.do(t, http.MethodPost, "/api/games", "", body)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = env.do(t, http.MethodPost, "/api/games", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/api/games", env.token, map[string]interface{}{"quiz_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, status, "unknown quiz")
	status, _ = env.do(t, http.MethodPost, "/api/games", env.token, map[string]interface{}{"quiz_id": env.quizID, "sync_mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, status)

	snap := env.createGame(t, "")
	assert.Equal(t, models.StatusLobby, snap.Status)
	assert.Equal(t, models.SyncModeSync, snap.SyncMode)
	assert.Len(t, snap.GameCode, 6)
	assert.Equal(t, models.NoQuestion, snap.CurrentQuestionIndex)
	assert.Equal(t, len(quizQuestions), snap.TotalQuestions)
}

func TestJoinAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	game := env.createGame(t, models.SyncModeSync)

	status, body := env.do(t, http.MethodPost, "/api/games/join", "", map[string]string{"game_code": game.GameCode, "nickname": "  p1 "})
	require.Equal(t, http.StatusCreated, status, string(body))
	var joined joinGameResponse
	require.NoError(t, json.Unmarshal(body, &joined))
	assert.Equal(t, "p1", joined.Player.Nickname)
	assert.Equal(t, game.ID, joined.Player.GameID)
	assert.NotEqual(t, uuid.Nil, joined.Player.ID)

	status, body = env.do(t, http.MethodGet, "/api/games/"+game.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, status)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Zero(t, snap.PlayerCount, "registered but not connected")
	assert.Equal(t, []models.PlayerSummary{}, snap.Players)

	status, _ = env.do(t, http.MethodPost, "/api/games/join", "", map[string]string{"game_code": game.GameCode, "nickname": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPost, "/api/games/join", "", map[string]string{"game_code": "ZZZZZZ", "nickname": "p2"})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(t, http.MethodGet, "/api/games/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(t, http.MethodGet, "/api/games/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHostActionsRequireTheGamesHost(t *testing.T) {
	env := newTestEnv(t)
	game := env.createGame(t, models.SyncModeSync)
	path := "/api/games/" + game.ID.String()

	status, _ := env.do(t, http.MethodPost, path+"/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	other, err := auth.CreateHostJWT(uuid.New())
	require.NoError(t, err)
	status, _ = env.do(t, http.MethodPost, path+"/start", other, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPost, path+"/next", env.token, nil)
	assert.Equal(t, http.StatusConflict, status, "nothing to advance in the lobby")

	status, body := env.do(t, http.MethodPost, path+"/start", env.token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, models.StatusQuestion, snap.Status)
	assert.Equal(t, 0, snap.CurrentQuestionIndex)

	status, _ = env.do(t, http.MethodPost, path+"/end", env.token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, path+"/start", env.token, nil)
	assert.Equal(t, http.StatusGone, status)

	status, body = env.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, models.StatusFinished, snap.Status)
}

func TestHostWebsocketAuthentication(t *testing.T) {
	env := newTestEnv(t)
	game := env.createGame(t, models.SyncModeSync)

	_, resp, err := dial(t, env.wsURL(game.ID, "host", ""), protocol.Subprotocol)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := auth.CreateHostJWT(uuid.New())
	require.NoError(t, err)
	_, resp, err = dial(t, env.wsURL(game.ID, "host", "token="+other), protocol.Subprotocol)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	c, _, err := dial(t, env.wsURL(game.ID, "host", "token="+env.token), protocol.Subprotocol)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, c)
	require.Equal(t, protocol.TypeConnected, hello.Type)
	var connected protocol.Connected
	require.NoError(t, hello.Bind(&connected))
	assert.Equal(t, env.hostID, connected.ParticipantID)
	assert.Equal(t, models.RoleHost, connected.Role)

	state := readFrame(t, c)
	require.Equal(t, protocol.TypeGameState, state.Type)
	var gs protocol.GameState
	require.NoError(t, state.Bind(&gs))
	assert.Equal(t, models.StatusLobby, gs.Status)
	assert.Equal(t, game.GameCode, gs.GameCode)
}

func TestPlayerWebsocketValidation(t *testing.T) {
	env := newTestEnv(t)
	game := env.createGame(t, models.SyncModeSync)

	_, resp, err := dial(t, env.wsURL(game.ID, "player", ""), protocol.Subprotocol)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = dial(t, env.wsURL(game.ID, "player", "player_id="+uuid.NewString()), protocol.Subprotocol)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dial(t, env.wsURL(uuid.New(), "player", "player_id="+uuid.NewString()), protocol.Subprotocol)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketRequiresSubprotocol(t *testing.T) {
	env := newTestEnv(t)
	game := env.createGame(t, models.SyncModeSync)

	c, _, err := dial(t, env.wsURL(game.ID, "host", "token="+env.token))
	require.NoError(t, err)
	defer c.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, BadSubprotocolError, websocket.CloseStatus(err))
}

func TestWebsocketCommands(t *testing.T) {
	env := newTestEnv(t)
	game := env.createGame(t, models.SyncModeSync)
	status, body := env.do(t, http.MethodPost, "/api/games/join", "", map[string]string{"game_code": game.GameCode, "nickname": "p1"})
	require.Equal(t, http.StatusCreated, status)
	var joined joinGameResponse
	require.NoError(t, json.Unmarshal(body, &joined))

	player, _, err := dial(t, env.wsURL(game.ID, "player", "player_id="+joined.Player.ID.String()), protocol.Subprotocol)
	require.NoError(t, err)
	defer player.Close(websocket.StatusNormalClosure, "")
	require.Equal(t, protocol.TypeConnected, readFrame(t, player).Type)
	require.Equal(t, protocol.TypeGameState, readFrame(t, player).Type)

	send := func(frame string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, player.Write(ctx, websocket.MessageText, []byte(frame)))
	}

	send(`{"type":"ping"}`)
	assert.Equal(t, protocol.TypePong, readFrame(t, player).Type)

	send(`{"type":`)
	assert.Equal(t, protocol.TypeError, readFrame(t, player).Type, "malformed frames get an error, not a close")

	send(`{"type":"start_game"}`)
	errFrame := readFrame(t, player)
	require.Equal(t, protocol.TypeError, errFrame.Type)
	var e protocol.Error
	require.NoError(t, errFrame.Bind(&e))
	assert.Equal(t, room.ErrNotHost.Error(), e.Message)

	send(`{"type":"hologram"}`)
	send(`{"type":"request_state"}`)
	assert.Equal(t, protocol.TypeGameState, readFrame(t, player).Type, "unknown types are skipped silently")
}
