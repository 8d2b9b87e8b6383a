package server

import (
	"io"
	"net/http"
	"testing"
)

func mustReadRequest(t *testing.T, raw string) *Request {
	t.Helper()
	req, err := newLimitedSource(raw).read(testHeaderLimit, 1024)
	if err != nil {
		t.Fatalf("readRequest() error = %v", err)
	}
	return req
}

// TestHTTPHandlerBuffersResponse verifies that a net/http handler's output
// becomes one enqueued response.
func TestHTTPHandlerBuffersResponse(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantStatus  int
		wantBody    string
		wantType    string
		wantHeaderX string
	}{
		{
			name: "explicit status and headers",
			handler: func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Path", r.URL.Path)
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write(body)
			},
			wantStatus:  http.StatusCreated,
			wantBody:    `{"a":1}`,
			wantType:    "application/json",
			wantHeaderX: "/items",
		},
		{
			name: "implicit ok with sniffed type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html><body>hi</body></html>"))
			},
			wantStatus: http.StatusOK,
			wantBody:   "<html><body>hi</body></html>",
			wantType:   "text/html; charset=utf-8",
		},
		{
			name:       "no output",
			handler:    func(http.ResponseWriter, *http.Request) {},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mustReadRequest(t, "POST /items HTTP/1.1\r\nHost: h\r\nContent-Length: 7\r\n\r\n{\"a\":1}")
			q := &recordingQueue{}
			HTTPHandler(tt.handler).ServeRequest(req, q)

			resp := q.last()
			if resp == nil {
				t.Fatal("nothing enqueued")
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if string(resp.Body) != tt.wantBody {
				t.Errorf("body = %q, want %q", resp.Body, tt.wantBody)
			}
			if got := resp.Header.Get("Content-Type"); tt.wantType != "" && got != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
			if got := resp.Header.Get("X-Path"); got != tt.wantHeaderX {
				t.Errorf("X-Path = %q, want %q", got, tt.wantHeaderX)
			}
		})
	}
}
