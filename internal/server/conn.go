package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type connEventKind int

const (
	evRead connEventKind = iota
	evWrite
	evReply
	evTimer
	evShutdown
	evClose
)

type connEvent struct {
	kind connEventKind
	req  *Request
	job  *writeJob
	resp *Response
	err  error
}

// Conn is the session of one HTTP connection. A single goroutine runs its
// event loop and owns all mutable state; blocking reads, writes and timer
// waits run in helper goroutines that post their completion as events.
//
// The loop reads a request, dispatches it and, as long as the write queue
// has room and the client keeps the connection alive, reads the next one
// while earlier responses are still being written.
type Conn struct {
	id    uint64
	srv   *Server
	tr    *Transport
	peer  string
	since time.Time
	log   zerolog.Logger

	queue *writeQueue
	timer *idleTimer

	events chan connEvent
	quit   chan struct{}
	done   chan struct{}

	reading     bool
	withheld    bool
	noMoreReads bool
	draining    bool
	upgrade     *Request
	closed      bool
	handedOff   bool
}

func newConn(srv *Server, nc net.Conn) *Conn {
	c := &Conn{
		id:     srv.hub.newID(),
		srv:    srv,
		tr:     newTransport(nc, srv.cfg.ReadBufferSize),
		since:  time.Now(),
		events: make(chan connEvent, 4),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.peer = c.tr.RemoteAddr()
	c.log = srv.log.With().Uint64("conn", c.id).Str("peer", c.peer).Logger()
	c.queue = newWriteQueue(srv.cfg.WriteQueueLimit, c.startWrite)
	c.timer = newIdleTimer(srv.cfg.IdleTimeout, func() {
		c.post(connEvent{kind: evTimer})
	})
	return c
}

// ID returns the registry id of the connection.
func (c *Conn) ID() uint64 { return c.id }

// Kind returns KindHTTP.
func (c *Conn) Kind() string { return KindHTTP }

// Peer returns the remote address.
func (c *Conn) Peer() string { return c.peer }

// Since returns the accept time.
func (c *Conn) Since() time.Time { return c.since }

// Done is closed once the connection is closed or handed off.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Shutdown stops reading and closes the connection once every queued
// response has been written.
func (c *Conn) Shutdown() { c.post(connEvent{kind: evShutdown}) }

// Close closes the connection, dropping queued responses.
func (c *Conn) Close() { c.post(connEvent{kind: evClose}) }

// post delivers ev to the event loop. It reports false once the loop is
// gone and the event was dropped.
func (c *Conn) post(ev connEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Conn) run() {
	defer func() {
		c.srv.hub.remove(c.id)
		close(c.done)
	}()

	c.log.Debug().Msg("connection opened")
	c.timer.reset()
	c.timer.wait()
	c.maybeRead()

	for !c.closed && !c.handedOff {
		c.handle(<-c.events)
	}
}

func (c *Conn) handle(ev connEvent) {
	switch ev.kind {
	case evRead:
		c.onRead(ev.req, ev.err)
	case evWrite:
		c.onWrite(ev.job, ev.err)
	case evReply:
		c.queue.fill(ev.job, ev.resp)
	case evTimer:
		c.onTimer()
	case evShutdown:
		c.upgrade = nil
		c.closeWhenDrained()
	case evClose:
		c.close()
	}
}

// maybeRead starts the next read unless one is running, reading has
// ended, or the write queue is full. A full queue withholds the read
// until a write completes.
func (c *Conn) maybeRead() {
	if c.reading || c.noMoreReads || c.closed {
		return
	}
	if c.queue.isFull() {
		if !c.withheld {
			c.srv.metrics.writeQueueFull()
			c.log.Debug().Int("queued", c.queue.len()).Msg("write queue full, withholding read")
		}
		c.withheld = true
		return
	}
	c.withheld = false
	c.startRead()
}

func (c *Conn) startRead() {
	br, err := c.tr.Reader()
	if err != nil {
		return
	}
	c.reading = true
	lim := c.tr.limit
	headerLimit, bodyLimit := c.srv.cfg.MaxHeaderBytes, c.srv.cfg.BodyLimit
	peer := c.peer
	go func() {
		req, err := readRequest(br, lim, headerLimit, bodyLimit)
		if req != nil {
			req.RemoteAddr = peer
		}
		c.post(connEvent{kind: evRead, req: req, err: err})
	}()
}

func (c *Conn) onRead(req *Request, err error) {
	c.reading = false
	outcome := classifyReadError(err)
	if outcome != readAborted {
		c.srv.metrics.requestRead(outcome)
	}

	switch outcome {
	case readOK:
	case readAborted:
		return
	case readEOF:
		c.log.Debug().Err(err).Msg("peer closed connection")
		c.closeWhenDrained()
		return
	case readTooLarge:
		c.log.Info().Str("target", req.Target).Int64("limit", c.srv.cfg.BodyLimit).Msg("request body too large")
		c.reject(req, http.StatusRequestEntityTooLarge, "Request body exceeds the size limit.")
		return
	case readHeaderTooLarge:
		c.log.Info().Int("limit", c.srv.cfg.MaxHeaderBytes).Msg("request header too large")
		c.reject(nil, http.StatusRequestHeaderFieldsTooLarge, "Request header fields too large.")
		return
	case readMalformed:
		c.log.Info().Err(err).Msg("malformed request")
		c.reject(nil, http.StatusBadRequest, "Bad request.")
		return
	default:
		if isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("connection reset by peer")
		} else {
			c.log.Error().Err(err).Msg("read failed")
		}
		c.close()
		return
	}

	c.timer.reset()

	if websocket.IsWebSocketUpgrade(req.raw) {
		c.log.Debug().Str("target", req.Target).Msg("upgrade requested")
		c.noMoreReads = true
		c.upgrade = req
		c.tryHandoff()
		return
	}

	if !req.KeepAlive {
		c.noMoreReads = true
	}
	c.dispatch(req)
	c.maybeRead()
}

// dispatch reserves the request's slot in the write queue, then runs its
// handler. The slot keeps the response in request order even when the
// handler answers later from another goroutine.
func (c *Conn) dispatch(req *Request) {
	job := &writeJob{}
	c.queue.enqueue(job)

	r := &reply{c: c, job: job, req: req, dispatching: true}
	c.serve(c.srv.router.Resolve(req.Target), req, r)

	r.mu.Lock()
	r.dispatching = false
	resp := r.resp
	r.resp = nil
	r.mu.Unlock()

	if resp != nil {
		c.queue.fill(job, resp)
	}
}

func (c *Conn) serve(h Handler, req *Request, q *reply) {
	ctx, span := c.srv.tracer.Start(context.Background(), req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.Target),
			attribute.String("net.peer.name", c.peer),
			attribute.Int64("session.id", int64(c.id)),
		),
	)
	defer span.End()
	req.ctx = c.log.With().Str("target", req.Target).Logger().WithContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("handler panic: %v", rec)
			c.log.Error().Err(err).Str("target", req.Target).Msg("handler panicked")
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler panic")
			q.Enqueue(errorResponse(req, http.StatusInternalServerError, "Internal Server Error"))
		}
	}()

	h.ServeRequest(req, q)
}

// reject answers a request that never reaches a handler and ends the
// connection after the answer.
func (c *Conn) reject(req *Request, status int, reason string) {
	c.noMoreReads = true
	job := &writeJob{}
	c.queue.enqueue(job)
	c.queue.fill(job, errorResponse(req, status, reason))
}

func (c *Conn) startWrite(j *writeJob) {
	nc, err := c.tr.Conn()
	if err != nil {
		return
	}
	go func() {
		err := j.resp.writeTo(nc)
		c.post(connEvent{kind: evWrite, job: j, err: err})
	}()
}

func (c *Conn) onWrite(j *writeJob, err error) {
	if err != nil {
		if isAborted(err) {
			return
		}
		if isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("peer went away during write")
		} else {
			c.log.Error().Err(err).Msg("write failed")
		}
		c.close()
		return
	}

	c.srv.metrics.responseWritten(j.resp.StatusCode)
	if j.resp.Close {
		c.close()
		return
	}

	c.timer.reset()
	wasFull := c.queue.onWriteCompleted()
	switch {
	case c.upgrade != nil:
		c.tryHandoff()
	case c.draining && c.queue.len() == 0:
		c.close()
	case wasFull || c.withheld:
		c.maybeRead()
	}
}

func (c *Conn) onTimer() {
	switch {
	case c.timer.frozen():
	case c.timer.expired():
		c.log.Debug().Dur("timeout", c.srv.cfg.IdleTimeout).Msg("idle timeout")
		c.srv.metrics.idleTimeout(KindHTTP)
		c.close()
	default:
		c.timer.wait()
	}
}

// tryHandoff moves the transport to a WebSocket session once no read is
// running and every earlier response is on the wire.
func (c *Conn) tryHandoff() {
	if c.upgrade == nil || c.reading || c.queue.len() > 0 {
		return
	}
	req := c.upgrade
	c.upgrade = nil

	c.timer.freeze()
	c.handedOff = true
	close(c.quit)
	c.srv.startWebSocket(c.tr.Detach(), req)
}

// closeWhenDrained ends reading and closes the connection as soon as the
// write queue is empty.
func (c *Conn) closeWhenDrained() {
	c.noMoreReads = true
	if c.queue.len() == 0 {
		c.close()
		return
	}
	c.draining = true
}

// close is the terminal action. Pending reads and writes fail as aborted.
func (c *Conn) close() {
	if c.closed || c.handedOff {
		return
	}
	c.closed = true
	close(c.quit)
	c.timer.stop()
	c.queue.stop()
	if err := c.tr.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("close failed")
	}
	c.log.Debug().Msg("connection closed")
}

// reply is the Queue handle given to the handler of one request.
type reply struct {
	c   *Conn
	job *writeJob
	req *Request

	mu          sync.Mutex
	sent        bool
	dispatching bool
	resp        *Response
}

// Enqueue hands the response to the connection. While the handler is
// still running on the event loop the response is parked for dispatch to
// pick up; afterwards it is posted as an event.
func (r *reply) Enqueue(resp *Response) {
	if resp == nil {
		resp = errorResponse(r.req, http.StatusInternalServerError, "Internal Server Error")
	}
	if !r.req.KeepAlive {
		resp.Close = true
	}

	r.mu.Lock()
	if r.sent {
		r.mu.Unlock()
		r.c.log.Warn().Str("target", r.req.Target).Msg("response enqueued twice, ignoring")
		resp.discard()
		return
	}
	r.sent = true
	if r.dispatching {
		r.resp = resp
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if !r.c.post(connEvent{kind: evReply, job: r.job, resp: resp}) {
		resp.discard()
	}
}
