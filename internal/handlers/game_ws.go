// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/middleware"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/jason-s-yu/quizsync/internal/room"
	"github.com/sirupsen/logrus"
)

// HostWSHandler upgrades the host connection for /ws/game/{gameID}/host.
// The token is verified before the upgrade so a bad credential is a plain 401/403.
func (gs *GameServer) HostWSHandler(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	hostID, ok := authenticateHost(w, r)
	if !ok {
		return
	}
	rm, err := gs.Rooms.Get(r.Context(), gameID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if rm.HostID != hostID {
		http.Error(w, room.ErrNotHost.Error(), http.StatusForbidden)
		return
	}

	conn := room.NewConnection(hostID, models.RoleHost, gs.Logger)
	gs.serveConnection(w, r, rm, conn)
}

// PlayerWSHandler upgrades a player connection for /ws/game/{gameID}/player?player_id=.
func (gs *GameServer) PlayerWSHandler(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	playerID, err := uuid.Parse(r.URL.Query().Get("player_id"))
	if err != nil {
		http.Error(w, "missing or invalid player_id", http.StatusBadRequest)
		return
	}
	rm, err := gs.Rooms.Get(r.Context(), gameID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if _, registered := rm.Player(playerID); !registered {
		http.Error(w, room.ErrUnknownPlayer.Error(), http.StatusNotFound)
		return
	}

	conn := room.NewConnection(playerID, models.RolePlayer, gs.Logger)
	gs.serveConnection(w, r, rm, conn)
}

func (gs *GameServer) serveConnection(w http.ResponseWriter, r *http.Request, rm *room.Room, conn *room.Connection) {
	logger := gs.Logger.WithFields(logrus.Fields{
		"game":        rm.ID,
		"participant": conn.ParticipantID,
		"role":        conn.Role,
	})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{protocol.Subprotocol},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != protocol.Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the "+protocol.Subprotocol+" subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn.Cancel = cancel

	if err := rm.AddConnection(conn); err != nil {
		logger.WithError(err).Warn("failed AddConnection")
		c.Close(closeCodeFor(err), err.Error())
		return
	}
	middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

	go gs.writePump(ctx, c, conn, logger)
	readErr := gs.readPump(ctx, c, rm, conn, logger)

	rm.RemoveConnection(conn)
	middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
}

func closeCodeFor(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, room.ErrFinished):
		return GameFinishedError
	case errors.Is(err, room.ErrUnknownPlayer):
		return InvalidPlayerIDError
	case errors.Is(err, room.ErrNotHost):
		return InvalidAuthTokenError
	}
	return websocket.StatusInternalError
}

// readPump dispatches inbound frames in arrival order until the socket closes.
// It returns the read error for abnormal closures and nil for clean ones.
func (gs *GameServer) readPump(ctx context.Context, c *websocket.Conn, rm *room.Room, conn *room.Connection, logger logrus.FieldLogger) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			logger.Warnf("ignoring non-text message type %d", typ)
			continue
		}

		env, err := protocol.Decode(msg)
		if err != nil {
			logger.WithError(err).Warn("dropping malformed frame")
			conn.WriteError("malformed message")
			continue
		}

		// A superseded connection may still deliver a few frames; ignore them.
		if conn.Closed() {
			logger.Debugf("ignoring %s from superseded connection", env.Type)
			continue
		}
		gs.handleClientMessage(rm, conn, env, logger)
	}
}

// writePump drains the outbox and pings the peer every PingInterval. When the
// room closes the outbox it closes the socket with the code the room chose.
func (gs *GameServer) writePump(ctx context.Context, c *websocket.Conn, conn *room.Connection, logger logrus.FieldLogger) {
	ticker := time.NewTicker(gs.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-conn.OutChan:
			if !ok {
				code, reason := conn.CloseStatus()
				_ = c.Close(code, reason)
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("failed to ping: %v. Assuming disconnect.", err)
				return
			}
		}
	}
}

// handleClientMessage applies one command frame. Failures go back to the
// sender as an error frame; the connection stays open.
func (gs *GameServer) handleClientMessage(rm *room.Room, conn *room.Connection, env protocol.Envelope, logger logrus.FieldLogger) {
	var err error
	switch env.Type {
	case protocol.TypePing:
		conn.Write(protocol.TypePong, nil)
	case protocol.TypeRequestState:
		conn.Write(protocol.TypeGameState, rm.State(conn))

	case protocol.TypeStartGame, protocol.TypeNextQuestion, protocol.TypeEndGame:
		if conn.Role != models.RoleHost {
			err = room.ErrNotHost
			break
		}
		switch env.Type {
		case protocol.TypeStartGame:
			err = rm.Start()
		case protocol.TypeNextQuestion:
			err = rm.Next()
		default:
			err = rm.End()
		}

	case protocol.TypeAnswer:
		if conn.Role != models.RolePlayer {
			err = errors.New("only players can answer")
			break
		}
		var a protocol.Answer
		if err = env.Bind(&a); err != nil {
			break
		}
		err = rm.SubmitAnswer(conn.ParticipantID, a.QuestionIndex, a.Option)

	default:
		logger.Debugf("ignoring unknown message type %q", env.Type)
	}

	if err != nil {
		logger.WithError(err).WithField("type", env.Type).Info("command rejected")
		conn.WriteError(err.Error())
	}
}
