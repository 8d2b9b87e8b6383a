package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSession is a session that finishes when told to.
type fakeSession struct {
	id        uint64
	hub       *Hub
	done      chan struct{}
	once      sync.Once
	drainable bool

	mu        sync.Mutex
	shutdowns int
	closes    int
}

func newFakeSession(h *Hub, drainable bool) *fakeSession {
	return &fakeSession{id: h.newID(), hub: h, done: make(chan struct{}), drainable: drainable}
}

func (s *fakeSession) ID() uint64            { return s.id }
func (s *fakeSession) Kind() string          { return KindHTTP }
func (s *fakeSession) Peer() string          { return "127.0.0.1:1" }
func (s *fakeSession) Since() time.Time      { return time.Time{} }
func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) finish() {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.done)
	})
}

func (s *fakeSession) Shutdown() {
	s.mu.Lock()
	s.shutdowns++
	s.mu.Unlock()
	if s.drainable {
		go s.finish()
	}
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.finish()
}

// TestHubRegistry verifies ids, Len and Snapshot ordering.
func TestHubRegistry(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)

	a := newFakeSession(h, true)
	b := newFakeSession(h, true)
	if a.ID() == b.ID() {
		t.Fatal("sessions share an id")
	}
	if !h.add(b) || !h.add(a) {
		t.Fatal("add() refused a session")
	}

	if got := h.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	snap := h.Snapshot()
	if len(snap) != 2 || snap[0].ID != a.ID() || snap[1].ID != b.ID() {
		t.Errorf("Snapshot() = %+v, want ordered by id", snap)
	}

	a.finish()
	h.remove(a.ID())
	if got := h.Len(); got != 1 {
		t.Errorf("Len() after remove = %d, want 1", got)
	}
}

// TestHubShutdownDrains verifies that Shutdown asks every session to drain,
// waits for them and refuses new sessions afterwards.
func TestHubShutdownDrains(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	sessions := []*fakeSession{newFakeSession(h, true), newFakeSession(h, true)}
	for _, s := range sessions {
		h.add(s)
	}

	if err := h.Shutdown(contextWithTimeout(t, time.Second)); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for _, s := range sessions {
		if s.shutdowns != 1 {
			t.Errorf("session %d got %d shutdowns, want 1", s.id, s.shutdowns)
		}
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d after shutdown", h.Len())
	}
	if h.add(newFakeSession(h, true)) {
		t.Error("add() succeeded after shutdown")
	}
}

// TestHubShutdownTimeout verifies that sessions still alive at the deadline
// are closed and the timeout is reported.
func TestHubShutdownTimeout(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	stuck := newFakeSession(h, false)
	h.add(stuck)

	err := h.Shutdown(contextWithTimeout(t, 50*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
	stuck.mu.Lock()
	closes := stuck.closes
	stuck.mu.Unlock()
	if closes != 1 {
		t.Errorf("stuck session closed %d times, want 1", closes)
	}
}

// TestHubShutdownCancelled verifies that cancelling the context ends the
// drain at once even when the context has no deadline.
func TestHubShutdownCancelled(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	stuck := newFakeSession(h, false)
	h.add(stuck)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := h.Shutdown(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Shutdown() error = %v, want context canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown() returned after %v", elapsed)
	}
	<-stuck.done
}

// TestHubBroadcastSkipsNonWebSocketSessions verifies that plain HTTP
// sessions never receive broadcasts.
func TestHubBroadcastSkipsNonWebSocketSessions(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	h.add(newFakeSession(h, true))

	if n := h.Broadcast(0, []byte(`{"content":"x"}`)); n != 0 {
		t.Errorf("Broadcast() delivered to %d sessions, want 0", n)
	}
}
