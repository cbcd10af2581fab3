// internal/room/connection.go
package room

import (
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// OutboxSize is the number of frames buffered per connection before writes are dropped.
const OutboxSize = 64

// Connection is one participant's live socket as seen by the room. The handler
// owns the socket; the room only queues frames on OutChan and closes it.
type Connection struct {
	ParticipantID uuid.UUID
	Role          models.Role
	Nickname      string
	Avatar        string

	// Cancel stops the handler goroutines serving this connection.
	Cancel  func()
	OutChan chan []byte

	log logrus.FieldLogger

	mu          sync.Mutex
	closed      bool
	closeCode   websocket.StatusCode
	closeReason string
}

func NewConnection(participantID uuid.UUID, role models.Role, log logrus.FieldLogger) *Connection {
	return &Connection{
		ParticipantID: participantID,
		Role:          role,
		OutChan:       make(chan []byte, OutboxSize),
		log:           log,
		closeCode:     websocket.StatusNormalClosure,
	}
}

// Write encodes and queues one frame without blocking. It reports false when the
// frame was dropped because the outbox is full or closed.
func (c *Connection) Write(t protocol.MessageType, payload interface{}) bool {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		c.log.WithError(err).WithField("type", t).Error("encode failed")
		return false
	}
	return c.send(t, frame)
}

// WriteError sends an application error frame.
func (c *Connection) WriteError(msg string) {
	c.Write(protocol.TypeError, protocol.Error{Message: msg})
}

func (c *Connection) send(t protocol.MessageType, frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.OutChan <- frame:
		return true
	default:
		c.log.WithFields(logrus.Fields{
			"participant": c.ParticipantID,
			"type":        t,
		}).Warn("outbox full, dropped frame")
		return false
	}
}

// Close closes the outbox. The write pump drains what is queued and then closes
// the socket with code. Calling Close again is a no-op.
func (c *Connection) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.OutChan)
}

// CloseStatus returns the code and reason given to Close.
func (c *Connection) CloseStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
