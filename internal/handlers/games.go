// internal/handlers/games.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/room"
	"github.com/sirupsen/logrus"
)

type createGameRequest struct {
	QuizID   uuid.UUID       `json:"quiz_id"`
	SyncMode models.SyncMode `json:"sync_mode"`
}

type joinGameRequest struct {
	GameCode string `json:"game_code"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type joinGameResponse struct {
	Player models.Player   `json:"player"`
	Game   models.Snapshot `json:"game"`
}

// CreateGameHandler creates a session for the authenticated host.
func (gs *GameServer) CreateGameHandler(w http.ResponseWriter, r *http.Request) {
	hostID, ok := authenticateHost(w, r)
	if !ok {
		return
	}
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.QuizID == uuid.Nil {
		http.Error(w, "quiz_id is required", http.StatusBadRequest)
		return
	}

	rm, err := gs.Rooms.Create(r.Context(), hostID, req.QuizID, req.SyncMode)
	if err != nil {
		gs.Logger.WithError(err).WithField("quiz", req.QuizID).Warn("create game failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, rm.Snapshot())
}

// GetGameHandler returns the authoritative snapshot of a session.
func (gs *GameServer) GetGameHandler(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	snap, err := gs.Rooms.Snapshot(r.Context(), gameID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// JoinGameHandler registers an anonymous player via the join code.
func (gs *GameServer) JoinGameHandler(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, rm, err := gs.Rooms.Join(r.Context(), req.GameCode, req.Nickname, req.Avatar)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	gs.Logger.WithFields(logrus.Fields{
		"game":   rm.ID,
		"player": p.ID,
	}).Info("player joined")
	writeJSON(w, http.StatusCreated, joinGameResponse{Player: *p, Game: rm.Snapshot()})
}

type hostCommand func(rm *room.Room) error

func startAction(rm *room.Room) error { return rm.Start() }
func nextAction(rm *room.Room) error  { return rm.Next() }
func endAction(rm *room.Room) error   { return rm.End() }

// hostAction wraps a host-only transition. On success the room has already
// broadcast the result; the response carries the new snapshot.
func (gs *GameServer) hostAction(cmd hostCommand) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostID, ok := authenticateHost(w, r)
		if !ok {
			return
		}
		gameID, ok := gameIDParam(w, r)
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
		if err := cmd(rm); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, rm.Snapshot())
	}
}
