// internal/client/manager.go
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingCredential is returned when a host connection has no bearer token.
	ErrMissingCredential = errors.New("client: host connection requires a bearer token")
	// ErrUnauthorized is reported when the server rejects the credential.
	ErrUnauthorized = errors.New("client: credential rejected")
	// ErrRejected is reported when the server closes the connection with a code
	// that retrying cannot fix.
	ErrRejected = errors.New("client: connection rejected by server")
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("client: not connected")
)

// Server close codes that end the reconnect loop.
const (
	closeInvalidAuthToken websocket.StatusCode = 3001
	closeInvalidPlayerID  websocket.StatusCode = 3002
	closeGameFinished     websocket.StatusCode = 3003
)

const (
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultSettleDelay       = 100 * time.Millisecond
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultActionTimeout     = 10 * time.Second
)

// TokenSource supplies the host bearer token. It is asked again on every dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Config describes one participant's view of one game.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL  string
	GameID   uuid.UUID
	Role     models.Role
	PlayerID uuid.UUID   // players only
	Token    TokenSource // hosts only

	KeepaliveInterval time.Duration
	Reconnect         ReconnectPolicy
	SettleDelay       time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	PollInterval      time.Duration
	ActionTimeout     time.Duration

	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Reconnect == nil {
		c.Reconnect = DefaultReconnectDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Manager owns the single logical connection of one participant. Every
// connect, reconnect or disconnect starts a new generation; anything a
// previous generation's dial or read loop reports afterwards is discarded.
type Manager struct {
	cfg Config
	log logrus.FieldLogger

	onFrame  func([]byte)
	onStatus func(bool)
	onError  func(error)

	mu       sync.Mutex
	gen      uint64
	conn     *websocket.Conn
	cancel   context.CancelFunc // current generation's dial, read loop and keepalive
	dialing  bool
	stopped  bool
	timer    *time.Timer // the one pending reconnect or settle timer
	attempts int
	dials    int

	statusMu  sync.Mutex
	published bool
}

// NewManager builds a manager. onFrame receives every inbound text frame in
// arrival order on the read goroutine and must not block. onStatus and onError
// may be nil.
func NewManager(cfg Config, onFrame func([]byte), onStatus func(bool), onError func(error)) *Manager {
	cfg = cfg.withDefaults()
	if onFrame == nil {
		onFrame = func([]byte) {}
	}
	if onStatus == nil {
		onStatus = func(bool) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Manager{
		cfg: cfg,
		log: cfg.Logger.WithFields(logrus.Fields{
			"game": cfg.GameID,
			"role": cfg.Role,
		}),
		onFrame:  onFrame,
		onStatus: onStatus,
		onError:  onError,
	}
}

// Connect opens the connection unless one is already open or being dialed.
// A player without a registered id is not connected and no error is returned.
// A returned error is also passed to the error callback.
func (m *Manager) Connect() error {
	m.mu.Lock()
	m.stopped = false
	err := m.connectLocked()
	m.mu.Unlock()
	if err != nil {
		m.onError(err)
	}
	return err
}

func (m *Manager) connectLocked() error {
	if m.conn != nil || m.dialing {
		return nil
	}
	switch m.cfg.Role {
	case models.RoleHost:
		if m.cfg.Token == nil {
			return ErrMissingCredential
		}
	case models.RolePlayer:
		if m.cfg.PlayerID == uuid.Nil {
			m.log.Debug("no player id yet; not connecting")
			return nil
		}
	default:
		return fmt.Errorf("client: unknown role %q", m.cfg.Role)
	}

	m.stopTimerLocked()
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.dialing = true
	m.dials++
	go m.dial(ctx, m.gen)
	return nil
}

// Disconnect closes the connection with a normal code and cancels every
// pending timer. No reconnect follows until Connect or Reconnect is called.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.teardownLocked()
	m.mu.Unlock()
	m.publishStatus()
}

// Reconnect tears down the current connection and dials again after the
// settle delay. Overlapping calls collapse into a single dial.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.stopped = false
	m.teardownLocked()

	var t *time.Timer
	t = time.AfterFunc(m.cfg.SettleDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timer != t {
			return
		}
		m.timer = nil
		if m.stopped {
			return
		}
		if err := m.connectLocked(); err != nil {
			go m.onError(err)
		}
	})
	m.timer = t
	m.mu.Unlock()
	m.publishStatus()
}

// teardownLocked starts a new generation and closes whatever the old one had.
func (m *Manager) teardownLocked() {
	m.gen++
	m.stopTimerLocked()
	m.dialing = false
	c, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil
	m.attempts = 0

	switch {
	case c != nil:
		go func() {
			_ = c.Close(websocket.StatusNormalClosure, "client disconnect")
			if cancel != nil {
				cancel()
			}
		}()
	case cancel != nil:
		cancel()
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// IsConnected reports whether a connection is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Dials returns how many dial attempts this manager has started.
func (m *Manager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Send writes one command frame on the current connection.
func (m *Manager) Send(ctx context.Context, t protocol.MessageType, payload interface{}) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, frame)
}

// SendAsync sends without waiting for the write to complete. Failures are logged.
func (m *Manager) SendAsync(t protocol.MessageType, payload interface{}) {
	go func() {
		if err := m.Send(context.Background(), t, payload); err != nil {
			m.log.WithError(err).Debugf("async send of %s failed", t)
		}
	}()
}

func (m *Manager) endpoint(ctx context.Context) (string, error) {
	u, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("client: bad base url: %w", err)
	}
	u.Path = fmt.Sprintf("%s/ws/game/%s/%s", strings.TrimRight(u.Path, "/"), m.cfg.GameID, m.cfg.Role)
	q := url.Values{}
	if m.cfg.Role == models.RoleHost {
		token, err := m.cfg.Token.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMissingCredential, err)
		}
		if token == "" {
			return "", ErrMissingCredential
		}
		q.Set("token", token)
	} else {
		q.Set("player_id", m.cfg.PlayerID.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) dialClient() *http.Client {
	if m.cfg.HTTPClient.Timeout == 0 {
		return m.cfg.HTTPClient
	}
	// websocket.Dial refuses clients with a timeout; the dial context bounds it instead.
	hc := *m.cfg.HTTPClient
	hc.Timeout = 0
	return &hc
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	dctx, dcancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer dcancel()

	target, err := m.endpoint(dctx)
	if err != nil {
		m.dialFailed(gen, err, true)
		return
	}

	c, resp, err := websocket.Dial(dctx, target, &websocket.DialOptions{
		HTTPClient:   m.dialClient(),
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		fatal := false
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				err, fatal = fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status), true
			case http.StatusNotFound, http.StatusGone, http.StatusBadRequest:
				err, fatal = fmt.Errorf("%w: %s", ErrRejected, resp.Status), true
			}
		}
		m.dialFailed(gen, err, fatal)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.log.Debug("discarding superseded connection")
		_ = c.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	m.dialing = false
	m.conn = c
	m.attempts = 0
	m.stopTimerLocked()
	m.mu.Unlock()

	m.log.Info("connected")
	m.publishStatus()
	go m.keepalive(ctx, c)
	m.readLoop(ctx, gen, c)
}

func (m *Manager) dialFailed(gen uint64, err error, fatal bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.dialing = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if !fatal && !m.stopped {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	if fatal {
		m.log.WithError(err).Error("connect failed; not retrying")
		m.onError(err)
		return
	}
	m.log.WithError(err).Warn("connect failed")
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, c *websocket.Conn) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			m.closed(gen, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		m.onFrame(data)
	}
}

// closed handles the end of generation gen's connection.
func (m *Manager) closed(gen uint64, err error) {
	code := websocket.CloseStatus(err)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	var fatal error
	switch code {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	case closeInvalidAuthToken:
		fatal = fmt.Errorf("%w: close code %d", ErrUnauthorized, code)
	case closeInvalidPlayerID, closeGameFinished:
		fatal = fmt.Errorf("%w: close code %d", ErrRejected, code)
	default:
		if !m.stopped {
			m.scheduleReconnectLocked()
		}
	}
	m.mu.Unlock()

	m.log.WithField("code", code).WithError(err).Info("connection closed")
	m.publishStatus()
	if fatal != nil {
		m.onError(fatal)
	}
}

// scheduleReconnectLocked arms the reconnect timer unless one is already pending.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil {
		return
	}
	delay := m.cfg.Reconnect.Delay(m.attempts)
	m.attempts++

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timer != t {
			return
		}
		m.timer = nil
		if m.stopped {
			return
		}
		if err := m.connectLocked(); err != nil {
			go m.onError(err)
		}
	})
	m.timer = t
	m.log.WithField("delay", delay).Info("reconnect scheduled")
}

func (m *Manager) keepalive(ctx context.Context, c *websocket.Conn) {
	frame, _ := protocol.Encode(protocol.TypePing, nil)
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
			err := c.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				m.log.WithError(err).Debug("keepalive failed")
			}
		}
	}
}

// publishStatus reports the current connected state if it differs from the
// last one reported. Calls are serialized so callers see changes in order.
func (m *Manager) publishStatus() {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	now := m.IsConnected()
	if now == m.published {
		return
	}
	m.published = now
	m.onStatus(now)
}
