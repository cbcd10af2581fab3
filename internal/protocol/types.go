// internal/protocol/types.go
package protocol

// MessageType is the "type" tag of every frame exchanged over a game connection.
type MessageType string

// Subprotocol is negotiated on every game websocket.
const Subprotocol = "quiz.v1"

// Server -> client.
const (
	TypeConnected        MessageType = "connected"
	TypeHostDisconnected MessageType = "host_disconnected"

	TypeGameStarted   MessageType = "game_started"
	TypeGameState     MessageType = "game_state"
	TypeQuestionStart MessageType = "question_start"
	TypeQuestionEnd   MessageType = "question_end"
	TypeResults       MessageType = "results"
	TypeGameEnd       MessageType = "game_end"

	TypeTimerTick MessageType = "timer_tick"

	TypePlayerConnected    MessageType = "player_connected"
	TypePlayerJoined       MessageType = "player_joined" // alias of player_connected
	TypePlayerDisconnected MessageType = "player_disconnected"
	TypePlayerLeft         MessageType = "player_left" // alias of player_disconnected
	TypePlayerCount        MessageType = "player_count"

	TypeScoreUpdate MessageType = "score_update"

	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Client -> server.
const (
	TypePing         MessageType = "ping"
	TypeStartGame    MessageType = "start_game"
	TypeNextQuestion MessageType = "next_question"
	TypeEndGame      MessageType = "end_game"
	TypeAnswer       MessageType = "answer"
	TypeRequestState MessageType = "request_state"
)
