package server

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var errHandshakeRejected = errors.New("websocket handshake rejected")

// hijackWriter lets the upgrader run over a transport that was never
// served by net/http. A rejected handshake leaves its error response
// buffered here; a successful one hijacks the transport.
type hijackWriter struct {
	conn     net.Conn
	brw      *bufio.ReadWriter
	header   http.Header
	status   int
	body     bytes.Buffer
	hijacked bool
}

func newHijackWriter(conn net.Conn, br *bufio.Reader) *hijackWriter {
	return &hijackWriter{
		conn:   conn,
		brw:    bufio.NewReadWriter(br, bufio.NewWriter(conn)),
		header: make(http.Header),
	}
}

func (w *hijackWriter) Header() http.Header {
	return w.header
}

func (w *hijackWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *hijackWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return w.conn, w.brw, nil
}

// response turns a rejected handshake into a response for req.
func (w *hijackWriter) response(req *Request) *Response {
	status := w.status
	if status == 0 {
		status = http.StatusBadRequest
	}
	resp := NewResponse(req, status)
	for k, v := range w.header {
		resp.Header[k] = v
	}
	resp.Body = w.body.Bytes()
	resp.ContentLength = int64(len(resp.Body))
	resp.Close = true
	return resp
}

// handshake completes the upgrade of tr using the request that asked for
// it. On rejection the upgrader's error response is written to tr before
// the error is returned; closing tr is left to the caller.
func handshake(u *websocket.Upgrader, tr *Transport, req *Request) (*websocket.Conn, error) {
	nc, err := tr.Conn()
	if err != nil {
		return nil, err
	}
	br, err := tr.Reader()
	if err != nil {
		return nil, err
	}

	w := newHijackWriter(nc, br)
	ws, err := u.Upgrade(w, req.raw, nil)
	if err == nil {
		return ws, nil
	}
	if w.hijacked {
		return nil, err
	}
	if werr := w.response(req).writeTo(tr); werr != nil {
		return nil, errors.Join(err, werr)
	}
	return nil, errors.Join(errHandshakeRejected, err)
}
