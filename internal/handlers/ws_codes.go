// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the game handlers. Clients treat
// InvalidAuthTokenError and GameFinishedError as final and do not reconnect.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Host token became invalid after the upgrade.
	InvalidPlayerIDError  websocket.StatusCode = 3002 // Player is no longer registered for the game.
	GameFinishedError     websocket.StatusCode = 3003 // Game ended before the connection could be registered.
)
