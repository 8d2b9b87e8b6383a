package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matrixji/beast-examples/internal/server"
)

// AdminPattern is the route the admin sub-router is registered under.
const AdminPattern = `^/admin(/.*)?$`

// Admin builds the admin sub-router over the session registry of srv and
// bridges it into the engine's router.
func Admin(srv *server.Server) server.Handler {
	return server.HTTPHandler(NewAdminRouter(srv.Hub()))
}

// NewAdminRouter returns the chi router behind Admin.
func NewAdminRouter(hub *server.Hub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", healthHandler(hub))
		r.Get("/sessions", sessionsHandler(hub))
		r.Post("/sessions/{id}/close", closeSessionHandler(hub))
		r.Get("/chat", chatPageHandler)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// healthHandler reports that the server is running and how many sessions
// it holds.
func healthHandler(hub *server.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": hub.Len(),
		})
	}
}

func sessionsHandler(hub *server.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": hub.Snapshot()})
	}
}

// closeSessionHandler sends a going-away close frame to one WebSocket session.
func closeSessionHandler(hub *server.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid session id"})
			return
		}
		ws, ok := hub.Lookup(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("websocket session %d not found", id)})
			return
		}
		ws.Shutdown()
		writeJSON(w, http.StatusAccepted, map[string]any{"closing": id})
	}
}

// chatPageHandler serves a page for trying the WebSocket endpoint by hand.
func chatPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, chatPage)
}

const chatPage = `<!DOCTYPE html>
<html>
<head>
    <title>WebSocket Console</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        .status { margin: 10px 0; padding: 5px; }
        .connected { background-color: #d4edda; }
        .disconnected { background-color: #f8d7da; }
    </style>
</head>
<body>
    <h1>WebSocket Console</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <select id="type">
            <option value="broadcast">broadcast</option>
            <option value="echo">echo</option>
        </select>
        <input type="text" id="content" placeholder="Message" disabled>
        <button id="send" onclick="send()" disabled>Send</button>
        <button id="toggle" onclick="toggle()">Connect</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const log = document.getElementById('log');
        const content = document.getElementById('content');
        const sendButton = document.getElementById('send');
        const toggleButton = document.getElementById('toggle');
        const statusDiv = document.getElementById('status');

        function append(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            content.disabled = !connected;
            sendButton.disabled = !connected;
            toggleButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggle() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = () => { append('connected'); setConnected(true); };
            ws.onmessage = (event) => {
                const env = JSON.parse(event.data);
                append((env.from ? '#' + env.from : 'server') + ' [' + env.type + ']: ' + env.content, 'green');
            };
            ws.onclose = (event) => { append('closed (' + event.code + ')'); setConnected(false); ws = null; };
        }

        function send() {
            const text = content.value.trim();
            if (!text || !ws) {
                return;
            }
            const type = document.getElementById('type').value;
            ws.send(JSON.stringify({type: type, content: text}));
            append('you [' + type + ']: ' + text, 'blue');
            content.value = '';
        }

        content.addEventListener('keypress', (e) => { if (e.key === 'Enter') { send(); } });
    </script>
</body>
</html>`
