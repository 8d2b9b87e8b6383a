// Package server keeps the registry of live sessions in the Hub type: it
// hands out session ids, fans messages out to WebSocket peers and drains
// every session on shutdown.
package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session kinds reported by the Hub.
const (
	KindHTTP      = "http"
	KindWebSocket = "websocket"
)

// session is what the Hub needs from a Conn or a WSSession.
type session interface {
	ID() uint64
	Kind() string
	Peer() string
	Since() time.Time
	// Shutdown asks the session to finish its current work and close.
	Shutdown()
	// Close closes the transport at once.
	Close()
	Done() <-chan struct{}
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID    uint64    `json:"id"`
	Kind  string    `json:"kind"`
	Peer  string    `json:"peer"`
	Since time.Time `json:"since"`
}

// Hub tracks every live session by id. A session stays registered until
// its last goroutine is done with it, so ids are never reused while a
// session can still act.
type Hub struct {
	sessions map[uint64]session
	nextID   uint64
	closing  bool
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	log      zerolog.Logger
	metrics  *Metrics
}

// NewHub creates an empty registry.
func NewHub(log zerolog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		sessions: make(map[uint64]session),
		log:      log,
		metrics:  metrics,
	}
}

func (h *Hub) newID() uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.nextID++
	return h.nextID
}

// add registers s. It fails once shutdown has started.
func (h *Hub) add(s session) bool {
	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		return false
	}
	h.sessions[s.ID()] = s
	h.wg.Add(1)
	count := len(h.sessions)
	h.mutex.Unlock()

	h.metrics.sessionOpened(s.Kind())
	h.log.Debug().Uint64("session", s.ID()).Str("kind", s.Kind()).Str("peer", s.Peer()).Int("total", count).Msg("session registered")
	return true
}

func (h *Hub) remove(id uint64) {
	h.mutex.Lock()
	s, ok := h.sessions[id]
	if !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.sessions, id)
	count := len(h.sessions)
	h.mutex.Unlock()

	h.wg.Done()
	h.metrics.sessionClosed(s.Kind())
	h.log.Debug().Uint64("session", id).Str("kind", s.Kind()).Int("total", count).Msg("session unregistered")
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Snapshot lists the live sessions ordered by id.
func (h *Hub) Snapshot() []SessionInfo {
	sessions := h.getSessionSnapshot()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{ID: s.ID(), Kind: s.Kind(), Peer: s.Peer(), Since: s.Since()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Lookup returns the WebSocket session with the given id.
func (h *Hub) Lookup(id uint64) (*WSSession, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	ws, ok := h.sessions[id].(*WSSession)
	return ws, ok
}

func (h *Hub) getSessionSnapshot() []session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast sends payload to every WebSocket session except the one with id
// from, and returns how many sessions accepted it. A session whose send
// buffer is full is shut down rather than left behind.
func (h *Hub) Broadcast(from uint64, payload []byte) int {
	delivered := 0
	var lagging []*WSSession

	for _, s := range h.getSessionSnapshot() {
		ws, ok := s.(*WSSession)
		if !ok || ws.ID() == from {
			continue
		}
		err := ws.Send(payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSendQueueFull):
			lagging = append(lagging, ws)
		}
	}

	for _, ws := range lagging {
		h.log.Warn().Uint64("session", ws.ID()).Str("peer", ws.Peer()).Msg("session removed due to full send buffer")
		ws.Close()
	}

	h.log.Debug().Uint64("from", from).Int("delivered", delivered).Msg("broadcast")
	return delivered
}

// Shutdown stops new registrations, asks every session to drain and waits
// until all of them are gone or ctx is done. Sessions still alive then are
// closed and the context error is returned.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	sessions := h.getSessionSnapshot()
	h.log.Info().Int("sessions", len(sessions)).Msg("draining sessions")
	for _, s := range sessions {
		s.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("all sessions drained")
		return nil
	case <-ctx.Done():
		remaining := h.getSessionSnapshot()
		h.log.Warn().Err(ctx.Err()).Int("sessions", len(remaining)).Msg("drain interrupted, closing remaining sessions")
		for _, s := range remaining {
			s.Close()
		}
		return ctx.Err()
	}
}
