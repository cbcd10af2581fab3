// internal/handlers/server.go
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/auth"
	"github.com/jason-s-yu/quizsync/internal/middleware"
	"github.com/jason-s-yu/quizsync/internal/room"
	"github.com/sirupsen/logrus"
)

// GameServer binds the HTTP and websocket surface to the room manager.
type GameServer struct {
	Rooms  *room.Manager
	Logger *logrus.Logger

	// PingInterval is how often the server pings each socket.
	PingInterval time.Duration
}

func NewGameServer(rooms *room.Manager, logger *logrus.Logger, pingInterval time.Duration) *GameServer {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &GameServer{Rooms: rooms, Logger: logger, PingInterval: pingInterval}
}

// Router returns the full route table.
func (gs *GameServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(gs.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api/games", func(r chi.Router) {
		r.Post("/", gs.CreateGameHandler)
		r.Post("/join", gs.JoinGameHandler)
		r.Get("/{gameID}", gs.GetGameHandler)
		r.Post("/{gameID}/start", gs.hostAction(startAction))
		r.Post("/{gameID}/next", gs.hostAction(nextAction))
		r.Post("/{gameID}/end", gs.hostAction(endAction))
	})

	r.Get("/ws/game/{gameID}/host", gs.HostWSHandler)
	r.Get("/ws/game/{gameID}/player", gs.PlayerWSHandler)
	return r
}

// authenticateHost verifies the request's bearer token, writing 401 or 403 on failure.
func authenticateHost(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing host token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	hostID, err := auth.AuthenticateHost(token)
	if errors.Is(err, auth.ErrNotHost) {
		http.Error(w, "token does not grant host access", http.StatusForbidden)
		return uuid.Nil, false
	}
	if err != nil {
		http.Error(w, "invalid host token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return hostID, true
}

// gameIDParam parses {gameID}, writing 400 on failure.
func gameIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "gameID"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps room errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrUnknownGame), errors.Is(err, room.ErrUnknownQuiz), errors.Is(err, room.ErrUnknownPlayer):
		return http.StatusNotFound
	case errors.Is(err, room.ErrFinished):
		return http.StatusGone
	case errors.Is(err, room.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, room.ErrInvalidPhase), errors.Is(err, room.ErrAsyncMode),
		errors.Is(err, room.ErrNotAccepting), errors.Is(err, room.ErrAlreadyAnswered):
		return http.StatusConflict
	case errors.Is(err, room.ErrBadNickname), errors.Is(err, room.ErrNoQuestions), errors.Is(err, room.ErrBadSyncMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
