package client

import (
	"sync"

	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// HandlerFunc handles one decoded inbound frame.
type HandlerFunc func(env protocol.Envelope)

// Router is the dispatch table for inbound frames. A frame that fails to
// decode, has no handler, or makes its handler panic is logged and dropped.
type Router struct {
	log logrus.FieldLogger

	mu       sync.RWMutex
	handlers map[protocol.MessageType]HandlerFunc
}

func NewRouter(log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		log:      log,
		handlers: make(map[protocol.MessageType]HandlerFunc),
	}
}

// Handle registers h for each of the given types, replacing any previous
// handler. A nil h removes the registration.
func (r *Router) Handle(h HandlerFunc, types ...protocol.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if h == nil {
			delete(r.handlers, t)
			continue
		}
		r.handlers[t] = h
	}
}

// Dispatch decodes data and runs the matching handler on the caller's goroutine.
// It reports whether a handler ran to completion.
func (r *Router) Dispatch(data []byte) (handled bool) {
	env, err := protocol.Decode(data)
	if err != nil {
		r.log.WithError(err).Warn("dropping malformed frame")
		return false
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Debugf("ignoring unknown message type %q", env.Type)
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("handler for %s panicked: %v", env.Type, p)
			handled = false
		}
	}()
	h(env)
	return true
}
