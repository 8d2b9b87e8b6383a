package server

import (
	"bufio"
	"io"
	"math"
	"net"
)

// readLimit sits between the connection and the read buffer and caps how
// many bytes may be pulled in while it is armed. Reads past the cap see
// io.EOF and mark the limit as hit.
type readLimit struct {
	r      io.Reader
	remain int64
	hit    bool
}

func (l *readLimit) Read(p []byte) (int, error) {
	if l.remain <= 0 {
		l.hit = true
		return 0, io.EOF
	}
	if int64(len(p)) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.r.Read(p)
	l.remain -= int64(n)
	return n, err
}

// arm allows n more bytes from the connection.
func (l *readLimit) arm(n int64) {
	l.remain, l.hit = n, false
}

func (l *readLimit) disarm() {
	l.remain = math.MaxInt64
}

func (l *readLimit) exceeded() bool {
	return l.hit
}

// Transport is the byte stream of one peer: the connection and the read
// buffer that may already hold bytes of the next request. Exactly one
// session owns a Transport; Detach moves it to a new owner.
type Transport struct {
	conn   net.Conn
	br     *bufio.Reader
	limit  *readLimit
	closed bool
}

func newTransport(conn net.Conn, readBufferSize int) *Transport {
	limit := &readLimit{r: conn, remain: math.MaxInt64}
	return &Transport{
		conn:  conn,
		br:    bufio.NewReaderSize(limit, readBufferSize),
		limit: limit,
	}
}

// Detach moves the connection into a new Transport and leaves t empty.
// Every later use of t fails with ErrTransportDetached, and closing t is a
// no-op, so the previous owner cannot touch the stream again.
func (t *Transport) Detach() *Transport {
	moved := &Transport{conn: t.conn, br: t.br, limit: t.limit, closed: t.closed}
	t.conn, t.br, t.limit = nil, nil, nil
	return moved
}

// Detached reports whether the connection has been moved out of t.
func (t *Transport) Detached() bool {
	return t.conn == nil
}

// Conn returns the underlying connection.
func (t *Transport) Conn() (net.Conn, error) {
	if t.conn == nil {
		return nil, ErrTransportDetached
	}
	return t.conn, nil
}

// Reader returns the buffered reader over the connection.
func (t *Transport) Reader() (*bufio.Reader, error) {
	if t.br == nil {
		return nil, ErrTransportDetached
	}
	return t.br, nil
}

// Write writes directly to the connection.
func (t *Transport) Write(p []byte) (int, error) {
	if t.conn == nil {
		return 0, ErrTransportDetached
	}
	return t.conn.Write(p)
}

// RemoteAddr returns the peer address, or "" once detached.
func (t *Transport) RemoteAddr() string {
	if t.conn == nil || t.conn.RemoteAddr() == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

// Close half-closes the write side, then closes the connection. Pending
// reads and writes fail with net.ErrClosed. Safe to call more than once.
func (t *Transport) Close() error {
	if t.conn == nil || t.closed {
		return nil
	}
	t.closed = true
	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return t.conn.Close()
}
