// Package server runs upgraded connections as WebSocket sessions: framed
// message exchange, keep-alive probing of idle peers, and inbound message
// processing decoupled from socket reads.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type pingState int

// Any frame from the peer, a pong included, returns the state to idle;
// only a ping still unanswered at the next deadline closes the session.
const (
	pingIdle pingState = iota
	pingSent
)

func (p pingState) String() string {
	if p == pingSent {
		return "ping_sent"
	}
	return "idle"
}

type wsEvent int

const (
	wsActivity wsEvent = iota
	wsPong
	wsTick
	wsReadDone
	wsWriteFailed
	wsShutdown
	wsClose
)

// WSSession is a WebSocket connection after a successful upgrade. Like
// Conn it has one event loop owning the idle timer and ping state. Three
// helper goroutines do the rest: a read loop that never waits on message
// processing, a processing loop fed by a bounded queue, and a write pump
// that is the only writer of data frames.
type WSSession struct {
	id    uint64
	srv   *Server
	tr    *Transport
	ws    *websocket.Conn
	peer  string
	since time.Time
	log   zerolog.Logger

	timer   *idleTimer
	ping    pingState
	limiter *rateLimiter
	closing bool

	events  chan wsEvent
	inbound chan []byte
	send    chan []byte
	pings   chan struct{}
	quit    chan struct{}
	done    chan struct{}
	pumps   sync.WaitGroup
}

// startWebSocket runs the upgrade handshake for req on tr, which the
// calling Conn no longer owns, and serves the session.
func (s *Server) startWebSocket(tr *Transport, req *Request) {
	ws := newWSSession(s, tr)
	if !s.hub.add(ws) {
		s.metrics.upgrade("refused")
		_ = tr.Close()
		return
	}
	go ws.run(req)
}

func newWSSession(srv *Server, tr *Transport) *WSSession {
	s := &WSSession{
		id:      srv.hub.newID(),
		srv:     srv,
		tr:      tr,
		peer:    tr.RemoteAddr(),
		since:   time.Now(),
		limiter: newRateLimiter(srv.cfg.RateLimit),
		events:  make(chan wsEvent, 8),
		inbound: make(chan []byte, srv.cfg.InboundQueueSize),
		send:    make(chan []byte, srv.cfg.SendQueueSize),
		pings:   make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.log = srv.log.With().Uint64("ws", s.id).Str("peer", s.peer).Logger()
	s.timer = newIdleTimer(srv.cfg.IdleTimeout, func() {
		s.post(wsTick)
	})
	return s
}

// ID returns the registry id of the session.
func (s *WSSession) ID() uint64 { return s.id }

// Kind returns KindWebSocket.
func (s *WSSession) Kind() string { return KindWebSocket }

// Peer returns the remote address.
func (s *WSSession) Peer() string { return s.peer }

// Since returns the time the upgrade was accepted.
func (s *WSSession) Since() time.Time { return s.since }

// Done is closed after the session and its goroutines have finished.
func (s *WSSession) Done() <-chan struct{} { return s.done }

// Shutdown sends a going-away close frame and closes the session.
func (s *WSSession) Shutdown() { s.post(wsShutdown) }

// Close closes the session without a close frame.
func (s *WSSession) Close() { s.post(wsClose) }

// Send queues one text message for the write pump.
func (s *WSSession) Send(payload []byte) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendJSON encodes v and queues it as one text message.
func (s *WSSession) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.Send(payload)
}

func (s *WSSession) post(ev wsEvent) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *WSSession) run(req *Request) {
	defer func() {
		s.srv.hub.remove(s.id)
		close(s.done)
	}()

	ws, err := handshake(&s.srv.upgrader, s.tr, req)
	if err != nil {
		s.srv.metrics.upgrade("rejected")
		s.log.Info().Err(err).Str("target", req.Target).Msg("websocket handshake failed")
		s.close()
		return
	}
	s.srv.metrics.upgrade("accepted")
	s.ws = ws
	s.setupConnection()
	s.log.Info().Str("target", req.Target).Msg("websocket session opened")

	s.timer.reset()
	s.timer.wait()

	s.pumps.Add(3)
	go func() {
		defer s.pumps.Done()
		s.readLoop()
	}()
	go func() {
		defer s.pumps.Done()
		s.processLoop()
	}()
	go func() {
		defer s.pumps.Done()
		s.writePump()
	}()

	for !s.closing {
		s.handle(<-s.events)
	}

	s.pumps.Wait()
	s.log.Info().Msg("websocket session closed")
}

// setupConnection installs the control frame handlers. Every control
// frame counts as activity; ping and close keep the default replies.
func (s *WSSession) setupConnection() {
	s.ws.SetReadLimit(s.srv.cfg.MaxMessageSize)

	s.ws.SetPingHandler(func(data string) error {
		s.post(wsActivity)
		err := s.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.srv.cfg.WriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !isExpectedCloseError(err) {
			return err
		}
		return nil
	})
	s.ws.SetPongHandler(func(string) error {
		s.post(wsPong)
		return nil
	})
	s.ws.SetCloseHandler(func(code int, _ string) error {
		s.post(wsActivity)
		msg := websocket.FormatCloseMessage(code, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.srv.cfg.WriteWait))
		return nil
	})
}

func (s *WSSession) handle(ev wsEvent) {
	switch ev {
	case wsActivity, wsPong:
		s.timer.reset()
		s.ping = pingIdle
	case wsTick:
		s.onTimer()
	case wsShutdown:
		s.goingAway()
	case wsReadDone, wsWriteFailed, wsClose:
		s.close()
	}
}

// onTimer sends one ping to a peer idle past the deadline and grants it
// one more period to show activity. A peer that stays silent for that
// period too is closed.
func (s *WSSession) onTimer() {
	switch {
	case s.timer.frozen():
	case !s.timer.expired():
		s.timer.wait()
	case s.ping != pingSent:
		select {
		case s.pings <- struct{}{}:
		default:
		}
		s.ping = pingSent
		s.srv.metrics.pingSent()
		s.log.Debug().Msg("peer idle, sending ping")
		s.timer.reset()
		s.timer.wait()
	default:
		s.log.Info().Dur("timeout", s.srv.cfg.IdleTimeout).Stringer("ping", s.ping).Msg("ping unanswered, closing session")
		s.srv.metrics.idleTimeout(KindWebSocket)
		s.close()
	}
}

func (s *WSSession) readLoop() {
	defer s.post(wsReadDone)

	for {
		_, payload, err := s.ws.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		s.post(wsActivity)
		s.srv.metrics.messageReceived()

		select {
		case s.inbound <- payload:
		default:
			s.srv.metrics.messageDropped("queue_full")
			s.log.Warn().Int("capacity", cap(s.inbound)).Msg("inbound queue full, dropping message")
		}
	}
}

// handleReadError logs the end of the read loop at a level matching its cause.
func (s *WSSession) handleReadError(err error) {
	switch {
	case isAborted(err):
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn().Int64("limit", s.srv.cfg.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Info().Err(err).Msg("peer closed session")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		s.log.Info().Err(err).Msg("peer connection closed")
	default:
		s.log.Error().Err(err).Msg("websocket read failed")
	}
}

func (s *WSSession) processLoop() {
	for {
		select {
		case <-s.quit:
			return
		case payload := <-s.inbound:
			s.process(payload)
		}
	}
}

// process decodes one message and routes it. Messages that are rate
// limited or fail to decode are dropped without affecting the session.
func (s *WSSession) process(payload []byte) {
	if !s.limiter.allow() {
		s.srv.metrics.messageDropped("rate_limited")
		s.log.Warn().Int("burst", s.srv.cfg.RateLimit.Burst).Dur("interval", s.srv.cfg.RateLimit.RefillInterval).Msg("rate limit exceeded, discarding message")
		return
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.srv.metrics.messageDropped("malformed")
		s.log.Debug().Err(err).Msg("discarding malformed message")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("type", env.Type).Msg("message handler panicked")
		}
	}()
	if !s.srv.messages.Dispatch(s, env) {
		s.srv.metrics.messageDropped("unrouted")
		s.log.Debug().Str("type", env.Type).Msg("no handler for message type")
	}
}

func (s *WSSession) writePump() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.pings:
			if !s.writeFrame(websocket.PingMessage, nil) {
				return
			}
		case msg := <-s.send:
			if !s.writeFrame(websocket.TextMessage, msg) {
				return
			}
		}
	}
}

func (s *WSSession) writeFrame(messageType int, payload []byte) bool {
	if err := s.ws.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteWait)); err != nil {
		return s.writeFailed(err)
	}
	if err := s.ws.WriteMessage(messageType, payload); err != nil {
		return s.writeFailed(err)
	}
	return true
}

func (s *WSSession) writeFailed(err error) bool {
	switch {
	case isAborted(err), errors.Is(err, websocket.ErrCloseSent):
	case isExpectedCloseError(err):
		s.log.Debug().Err(err).Msg("peer went away during write")
	default:
		s.log.Error().Err(err).Msg("websocket write failed")
	}
	s.post(wsWriteFailed)
	return false
}

func (s *WSSession) goingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.srv.cfg.WriteWait))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("close frame not sent")
	}
	s.close()
}

// close is the terminal action: half-close, then close the transport.
func (s *WSSession) close() {
	if s.closing {
		return
	}
	s.closing = true
	close(s.quit)
	s.timer.stop()
	if err := s.tr.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn().Err(err).Msg("close failed")
	}
}
