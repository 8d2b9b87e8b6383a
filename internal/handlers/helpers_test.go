package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/matrixji/beast-examples/internal/server"
)

type recordingQueue struct {
	mu    sync.Mutex
	resps []*server.Response
}

func (q *recordingQueue) Enqueue(resp *server.Response) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resps = append(q.resps, resp)
}

// serve runs h on a request built from method, target and body and returns
// the single response it enqueued.
func serve(t *testing.T, h server.Handler, method, target, body string) *server.Response {
	t.Helper()
	req, err := server.NewRequest(newTestRequest(method, target, body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	q := &recordingQueue{}
	h.ServeRequest(req, q)
	if len(q.resps) != 1 {
		t.Fatalf("handler enqueued %d responses, want 1", len(q.resps))
	}
	return q.resps[0]
}

// responseBody returns the in-memory or streamed body of resp.
func responseBody(t *testing.T, resp *server.Response) string {
	t.Helper()
	if resp.Stream == nil {
		return string(resp.Body)
	}
	defer resp.Stream.Close()
	b, err := io.ReadAll(resp.Stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return string(b)
}

func decodeJSON(t *testing.T, resp *server.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		t.Fatalf("decode %q: %v", resp.Body, err)
	}
	return m
}

func newTestRequest(method, target, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, target, nil)
	}
	return httptest.NewRequest(method, target, strings.NewReader(body))
}
