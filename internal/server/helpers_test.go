package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

// startTestListener serves srv on a loopback port and shuts it down when
// the test ends.
func startTestListener(t *testing.T, cfg Config, setup func(srv *Server)) (*Listener, string) {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg)
	if setup != nil {
		setup(srv)
	}

	l, err := NewListener(srv)
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- l.Run()
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
		select {
		case err := <-runErr:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after Shutdown")
		}
	})

	return l, l.Addr().String()
}

// rawClient speaks HTTP/1.1 over a plain TCP connection so tests can
// pipeline requests and observe the exact bytes on the wire.
type rawClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *rawClient) send(raw string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(raw)); err != nil {
		c.t.Fatalf("write request: %v", err)
	}
}

func (c *rawClient) readResponse() *http.Response {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(c.br, nil)
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	return resp
}

func (c *rawClient) readBody(resp *http.Response) string {
	c.t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// expectClosed waits for the server to close the connection.
func (c *rawClient) expectClosed(within time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(within))
	buf := make([]byte, 1)
	n, err := c.br.Read(buf)
	if err == nil {
		c.t.Fatalf("expected connection to be closed, read %d bytes", n)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.t.Fatalf("connection still open after %v", within)
	}
}

func get(target string) string {
	return "GET " + target + " HTTP/1.1\r\nHost: test\r\n\r\n"
}

// textHandler answers synchronously with a fixed body.
func textHandler(body string) Handler {
	return HandlerFunc(func(req *Request, q Queue) {
		resp := NewResponse(req, http.StatusOK)
		resp.SetBody("text/plain", []byte(body))
		q.Enqueue(resp)
	})
}

// recordingQueue captures enqueued responses.
type recordingQueue struct {
	mu    sync.Mutex
	resps []*Response
}

func (q *recordingQueue) Enqueue(resp *Response) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resps = append(q.resps, resp)
}

func (q *recordingQueue) last() *Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.resps) == 0 {
		return nil
	}
	return q.resps[len(q.resps)-1]
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
