package server

import (
	"net/http"
	"testing"
)

func handlerName(t *testing.T, h Handler) string {
	t.Helper()
	q := &recordingQueue{}
	h.ServeRequest(&Request{Method: http.MethodGet, Target: "/x", KeepAlive: true, ProtoMajor: 1, ProtoMinor: 1}, q)
	resp := q.last()
	if resp == nil {
		t.Fatal("handler enqueued nothing")
	}
	return string(resp.Body)
}

// TestRouterPrecedence verifies that the first registered match wins and
// that unmatched targets fall back to the last registered route.
func TestRouterPrecedence(t *testing.T) {
	r := NewRouter()
	if err := r.Register("^/a$", textHandler("a")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("/api/v1/version", textHandler("version")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("^/.*$", textHandler("catch-all")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		target string
		want   string
	}{
		{"/a", "a"},
		{"/b", "catch-all"},
		{"/a/b", "catch-all"},
		{"/api/v1/version", "version"},
		{"/api/v1/version/extra", "catch-all"},
		{"/xapi/v1/version", "catch-all"},
		{"no-slash", "catch-all"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if got := handlerName(t, r.Resolve(tt.target)); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

// TestRouterMatchesQueryString verifies that patterns see the query part
// of the request-target.
func TestRouterMatchesQueryString(t *testing.T) {
	r := NewRouter()
	_ = r.Register(`/api/v1/realtime/preview(\?prev=.+)?`, textHandler("preview"))
	_ = r.Register(`.*`, textHandler("static"))

	tests := []struct {
		target string
		want   string
	}{
		{"/api/v1/realtime/preview", "preview"},
		{"/api/v1/realtime/preview?prev=abc", "preview"},
		{"/api/v1/realtime/preview?prev=", "static"},
		{"/api/v1/realtime/preview?next=abc", "static"},
	}

	for _, tt := range tests {
		if got := handlerName(t, r.Resolve(tt.target)); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

// TestRouterEmptyTable verifies the built-in 404 handler.
func TestRouterEmptyTable(t *testing.T) {
	r := NewRouter()
	q := &recordingQueue{}
	r.Resolve("/anything").ServeRequest(&Request{Method: http.MethodGet, Target: "/anything", KeepAlive: true}, q)

	resp := q.last()
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty router response = %+v, want 404", resp)
	}
}

// TestRouterRegisterErrors verifies that invalid patterns and nil handlers
// are rejected and leave the table unchanged.
func TestRouterRegisterErrors(t *testing.T) {
	r := NewRouter()
	if err := r.Register("(", textHandler("x")); err == nil {
		t.Error("Register() with invalid pattern succeeded")
	}
	if err := r.Register("/ok", nil); err == nil {
		t.Error("Register() with nil handler succeeded")
	}
	if got := len(r.Patterns()); got != 0 {
		t.Errorf("Patterns() has %d entries, want 0", got)
	}
}

// TestRouterPatternsKeepOrder verifies registration order is preserved.
func TestRouterPatternsKeepOrder(t *testing.T) {
	r := NewRouter()
	want := []string{"^/a$", "^/b$", ".*"}
	for _, p := range want {
		if err := r.Register(p, textHandler(p)); err != nil {
			t.Fatalf("Register(%q) error = %v", p, err)
		}
	}

	got := r.Patterns()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Patterns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
