// Package testhelpers provides the shared setup for end-to-end tests: a
// listener on a loopback port with the application routes installed, and
// small HTTP and WebSocket client helpers.
package testhelpers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matrixji/beast-examples/internal/handlers"
	"github.com/matrixji/beast-examples/internal/preview"
	"github.com/matrixji/beast-examples/internal/sampling"
	"github.com/matrixji/beast-examples/internal/server"
	"github.com/rs/zerolog"
)

// TestServer is a running listener and the URLs that reach it.
type TestServer struct {
	Listener *server.Listener
	URL      string
	WSURL    string
	DocRoot  string
}

// Server returns the engine behind the listener.
func (s *TestServer) Server() *server.Server {
	return s.Listener.Server()
}

// Shutdown drains the listener within timeout.
func (s *TestServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Listener.Shutdown(ctx)
}

// StartServer starts a listener on a loopback port with the application
// routes installed, serving files from a temporary document root holding
// an index.html. customize may adjust the configuration first. The
// listener is shut down when the test ends.
func StartServer(t *testing.T, customize func(cfg *server.Config)) *TestServer {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Addr = "127.0.0.1:0"
	if customize != nil {
		customize(cfg)
	}

	docRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(docRoot, "index.html"), []byte("<h1>index</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	srv := server.NewServer(*cfg)
	if err := InstallApp(srv, docRoot); err != nil {
		t.Fatalf("install routes: %v", err)
	}

	l, err := server.NewListener(srv)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = l.Run() }()

	ts := &TestServer{
		Listener: l,
		URL:      "http://" + l.Addr().String(),
		WSURL:    "ws://" + l.Addr().String() + "/ws",
		DocRoot:  docRoot,
	}
	t.Cleanup(func() { _ = ts.Shutdown(5 * time.Second) })
	return ts
}

// InstallApp registers the routes the server command installs, with the
// static handler as the catch-all.
func InstallApp(srv *server.Server, docRoot string) error {
	if err := srv.Handle(`^/api/v1/version$`, handlers.Version()); err != nil {
		return err
	}
	if err := sampling.Install(srv, sampling.NewService(time.Second, zerolog.Nop())); err != nil {
		return err
	}
	store := preview.NewStore(preview.NewMemoryBlobs(), preview.DefaultLimit, zerolog.Nop())
	if err := preview.Install(srv, preview.NewCache(store, zerolog.Nop()), store); err != nil {
		return err
	}
	if err := srv.Handle(handlers.AdminPattern, handlers.Admin(srv)); err != nil {
		return err
	}
	handlers.InstallMessages(srv)
	return srv.Handle(`.*`, handlers.NewStatic(docRoot))
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	if contentType := resp.Header.Get("Content-Type"); contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest executes an HTTP request with a 5-second timeout and fails
// the test if it cannot be made.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// ConnectWebSocket dials url, sending origin when it is not empty.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and closes the connection when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, "http://localhost")
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendMessage sends an envelope of the given type and content.
func SendMessage(conn *websocket.Conn, typ, content string) error {
	return conn.WriteJSON(server.Envelope{Type: typ, Content: content})
}

// ReceiveMessage reads one envelope, waiting at most timeout.
func ReceiveMessage(conn *websocket.Conn, timeout time.Duration) (server.Envelope, error) {
	var env server.Envelope
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	err := conn.ReadJSON(&env)
	return env, err
}

// ExpectNoMessage fails the test if a message arrives within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if env, err := ReceiveMessage(conn, timeout); err == nil {
		t.Errorf("Expected no message, got %+v", env)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitForSessions polls until the hub of ts holds n sessions.
func WaitForSessions(t *testing.T, ts *TestServer, n int) {
	t.Helper()
	hub := ts.Server().Hub()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d sessions, have %d", n, hub.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
