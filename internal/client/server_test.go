package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks just enough of the game endpoints to drive the client.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	reject    int // HTTP status for upgrades; 0 accepts
	accepts   int
	open      int
	conns     []*websocket.Conn
	queries   []string
	snapshot  models.Snapshot
	snapshots int

	frames chan protocol.Envelope
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t:        t,
		frames:   make(chan protocol.Envelope, 64),
		snapshot: models.Snapshot{Status: models.StatusLobby, CurrentQuestionIndex: models.NoQuestion, Players: []models.PlayerSummary{}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/game/", f.serveWS)
	mux.HandleFunc("/api/games/", f.serveSnapshot)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) serveWS(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	reject := f.reject
	f.queries = append(f.queries, r.URL.RawQuery)
	f.mu.Unlock()
	if reject != 0 {
		http.Error(w, "rejected", reject)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{protocol.Subprotocol}})
	if err != nil {
		return
	}
	defer c.CloseNow()

	f.mu.Lock()
	f.accepts++
	f.open++
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.open--
		f.mu.Unlock()
	}()

	for {
		_, data, err := c.Read(context.Background())
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		select {
		case f.frames <- env:
		default:
		}
	}
}

func (f *fakeServer) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.snapshots++
	snap := f.snapshot
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (f *fakeServer) setSnapshot(s models.Snapshot) {
	f.mu.Lock()
	f.snapshot = s
	f.mu.Unlock()
}

func (f *fakeServer) stats() (accepts, open int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts, f.open
}

func (f *fakeServer) snapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots
}

func (f *fakeServer) last() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.conns)
	return f.conns[len(f.conns)-1]
}

// push writes a raw frame on the newest connection.
func (f *fakeServer) push(frame string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(f.t, f.last().Write(ctx, websocket.MessageText, []byte(frame)))
}

// expect waits for the next client frame of type t, skipping keepalives.
func (f *fakeServer) expect(t protocol.MessageType) protocol.Envelope {
	f.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-f.frames:
			if env.Type == t {
				return env
			}
		case <-deadline:
			f.t.Fatalf("timed out waiting for %s", t)
			return protocol.Envelope{}
		}
	}
}

func (f *fakeServer) config(role models.Role) Config {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := Config{
		BaseURL:      f.srv.URL,
		GameID:       uuid.New(),
		Role:         role,
		Reconnect:    FixedDelay(30 * time.Millisecond),
		SettleDelay:  20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Logger:       logger,
	}
	if role == models.RolePlayer {
		cfg.PlayerID = uuid.New()
	} else {
		cfg.Token = StaticToken("host-token")
	}
	return cfg
}

// recorder collects manager callbacks.
type recorder struct {
	mu       sync.Mutex
	statuses []bool
	errs     []error
}

func (r *recorder) status(up bool) {
	r.mu.Lock()
	r.statuses = append(r.statuses, up)
	r.mu.Unlock()
}

func (r *recorder) err(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) history() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.statuses...)
}

func hasQuery(queries []string, fragment string) bool {
	for _, q := range queries {
		if strings.Contains(q, fragment) {
			return true
		}
	}
	return false
}
