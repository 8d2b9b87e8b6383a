package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/matrixji/beast-examples/test/testhelpers"
)

// TestHTTPRoutes verifies the application routes over a real connection.
func TestHTTPRoutes(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)

	tests := []struct {
		name        string
		method      string
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"version", http.MethodGet, "/api/v1/version", http.StatusOK, "application/json", `"version":"1.0"`},
		{"index", http.MethodGet, "/", http.StatusOK, "text/html", "<h1>index</h1>"},
		{"missing file", http.MethodGet, "/nope.html", http.StatusNotFound, "text/html", "was not found"},
		{"admin health", http.MethodGet, "/admin/health", http.StatusOK, "application/json", `"status":"ok"`},
		{"admin chat page", http.MethodGet, "/admin/chat", http.StatusOK, "text/html; charset=utf-8", "WebSocket"},
		{"empty preview list", http.MethodGet, "/api/v1/realtime/preview", http.StatusOK, "application/json", `"ret":0`},
		{"unknown sampling job", http.MethodGet, "/api/v1/calibration/sampling/42", http.StatusNotFound, "application/json", `"ret":1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, tt.method, ts.URL+tt.path)
			testhelpers.AssertStatusCode(t, resp, tt.status)
			testhelpers.AssertContentType(t, resp, tt.contentType)

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if !bytes.Contains(body, []byte(tt.contains)) {
				t.Errorf("body %q does not contain %q", body, tt.contains)
			}
		})
	}
}

// TestKeepAliveReusesConnection verifies that sequential requests from one
// client share a single session.
func TestKeepAliveReusesConnection(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)

	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < 5; i++ {
		resp, err := client.Get(ts.URL + "/api/v1/version")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	}

	testhelpers.WaitForSessions(t, ts, 1)
	client.CloseIdleConnections()
	testhelpers.WaitForSessions(t, ts, 0)
}

// TestSamplingJobOverHTTP verifies a sampling job from start to stop.
func TestSamplingJobOverHTTP(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)
	client := &http.Client{Timeout: 5 * time.Second}

	post := func(path, body string) map[string]any {
		t.Helper()
		resp, err := client.Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		defer resp.Body.Close()
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	started := post("/api/v1/calibration/sampling/start", `{"timeout":60}`)
	id, ok := started["id"].(float64)
	if !ok || id == 0 {
		t.Fatalf("start = %v, want an id", started)
	}

	statusURL := ts.URL + "/api/v1/calibration/sampling/" + jsonNumber(id)
	resp := testhelpers.MakeRequest(t, http.MethodGet, statusURL)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["status"] != "running" {
		t.Errorf("status = %v, want running", status["status"])
	}

	post("/api/v1/calibration/sampling/stop", `{"id":`+jsonNumber(id)+`}`)

	resp = testhelpers.MakeRequest(t, http.MethodGet, statusURL)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
