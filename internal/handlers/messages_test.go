package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matrixji/beast-examples/internal/server"
)

func startListener(t *testing.T) string {
	t.Helper()
	cfg := server.NewConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := server.NewServer(*cfg)
	InstallMessages(srv)
	if err := srv.Handle(".*", Version()); err != nil {
		t.Fatal(err)
	}

	l, err := server.NewListener(srv)
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}
	go func() { _ = l.Run() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l.Addr().String()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) server.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env server.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// TestMessageHandlers verifies echo, broadcast and the untyped fallback.
func TestMessageHandlers(t *testing.T) {
	addr := startListener(t)
	alice := dial(t, addr)
	bob := dial(t, addr)

	if err := alice.WriteJSON(server.Envelope{Type: TypeEcho, Content: "ping"}); err != nil {
		t.Fatal(err)
	}
	if got := read(t, alice); got.Type != TypeEcho || got.Content != "ping" || got.From != 0 {
		t.Errorf("echo = %+v", got)
	}

	if err := alice.WriteJSON(server.Envelope{Type: TypeBroadcast, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	first := read(t, bob)
	if first.Content != "hello" || first.From == 0 {
		t.Errorf("broadcast = %+v", first)
	}

	if err := alice.WriteJSON(server.Envelope{Content: "untyped"}); err != nil {
		t.Fatal(err)
	}
	if got := read(t, bob); got.Type != TypeBroadcast || got.Content != "untyped" || got.From != first.From {
		t.Errorf("fallback = %+v", got)
	}
}
