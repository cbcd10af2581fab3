package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventRecord is one entry of the session event log pushed to the historian queue.
type EventRecord struct {
	GameID    uuid.UUID       `json:"game_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"` // epoch millis
}
