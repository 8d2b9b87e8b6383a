// Package server routes decoded WebSocket messages to handlers by their
// type field.
package server

import (
	"sync"
)

// Envelope is the structured form of an inbound WebSocket message.
type Envelope struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	// From is filled in by the server on messages relayed to other peers.
	From uint64 `json:"from,omitempty"`
}

// MessageHandler processes one decoded message of a session. Handlers run
// on the session's processing goroutine, one message at a time.
type MessageHandler interface {
	ServeMessage(s *WSSession, env Envelope)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(s *WSSession, env Envelope)

// ServeMessage calls f(s, env).
func (f MessageHandlerFunc) ServeMessage(s *WSSession, env Envelope) {
	f(s, env)
}

// MessageRouter maps envelope types to handlers. Messages of unknown or
// empty type go to the fallback handler, if any.
type MessageRouter struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	fallback MessageHandler
}

// NewMessageRouter creates an empty router.
func NewMessageRouter() *MessageRouter {
	return &MessageRouter{handlers: make(map[string]MessageHandler)}
}

// Handle registers h for messages of type typ.
func (r *MessageRouter) Handle(typ string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// HandleFunc registers f for messages of type typ.
func (r *MessageRouter) HandleFunc(typ string, f func(s *WSSession, env Envelope)) {
	r.Handle(typ, MessageHandlerFunc(f))
}

// Fallback sets the handler for messages no other handler claims.
func (r *MessageRouter) Fallback(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Dispatch runs the handler for env and reports whether one was found.
func (r *MessageRouter) Dispatch(s *WSSession, env Envelope) bool {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()

	if h == nil {
		return false
	}
	h.ServeMessage(s, env)
	return true
}
