package server

import "testing"

// TestMessageRouterDispatch verifies routing by type and the fallback.
func TestMessageRouterDispatch(t *testing.T) {
	r := NewMessageRouter()
	var got []string
	r.HandleFunc("chat", func(_ *WSSession, env Envelope) {
		got = append(got, "chat:"+env.Content)
	})

	if !r.Dispatch(nil, Envelope{Type: "chat", Content: "a"}) {
		t.Error("Dispatch() of a registered type returned false")
	}
	if r.Dispatch(nil, Envelope{Type: "unknown"}) {
		t.Error("Dispatch() without fallback returned true")
	}

	r.Fallback(MessageHandlerFunc(func(_ *WSSession, env Envelope) {
		got = append(got, "fallback:"+env.Type)
	}))
	if !r.Dispatch(nil, Envelope{Type: "unknown"}) {
		t.Error("Dispatch() with fallback returned false")
	}
	r.Dispatch(nil, Envelope{Content: "untyped"})

	want := []string{"chat:a", "fallback:unknown", "fallback:"}
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handled[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
