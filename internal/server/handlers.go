// Package server exposes HTTP handlers, including authenticated WebSocket
// upgrades, health and stats checks, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler authenticates the request, upgrades it and registers the
// connection. Authentication happens before the upgrade so a refused request
// never creates registry state.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.isShuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.gate == nil {
		s.log.Error().Msg("no authentication gate configured; refusing upgrade")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	principal, err := s.gate.Authenticate(r)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("refusing unauthenticated upgrade")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s.accept(conn, principal, r.RemoteAddr)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room relay is running!")
}

// Stats is the body served by StatsHandler.
type Stats struct {
	Rooms        int  `json:"rooms"`
	Connections  int  `json:"connections"`
	RelayRunning bool `json:"relay_running"`
}

// StatsHandler reports room and connection counts and whether the relay is
// still delivering.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, conns := s.registry.Stats()

	running := false
	select {
	case <-s.relay.Done():
	default:
		running = !s.relay.IsStopped()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Stats{Rooms: rooms, Connections: conns, RelayRunning: running}); err != nil {
		s.log.Warn().Err(err).Msg("writing stats response")
	}
}

// TestPageHandler serves an HTML page for trying the room protocol from a
// browser. The token is passed as a query parameter since browsers cannot set
// headers on WebSocket upgrades.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.log.Warn().Err(err).Msg("writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .error { color: #721c24; }
        .ok { color: #155724; }
    </style>
</head>
<body>
    <h1>Room Relay Test</h1>
    <div>
        <input type="text" id="token" placeholder="Bearer token">
        <button onclick="connect()">Connect</button>
        <button onclick="if (ws) ws.close()">Disconnect</button>
    </div>
    <div>
        <input type="text" id="room" placeholder="Room" value="lobby">
        <button onclick="send({JOIN: room()})">Join</button>
        <button onclick="send({LEAVE: room()})">Leave</button>
    </div>
    <div>
        <input type="text" id="message" placeholder="Message">
        <button onclick="send({MESSAGE: {room: room(), message: document.getElementById('message').value}})">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        function room() { return document.getElementById('room').value.trim(); }
        function add(text, cls) {
            const el = document.createElement('div');
            el.className = cls || '';
            el.textContent = text;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }
        function connect() {
            const token = encodeURIComponent(document.getElementById('token').value.trim());
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);
            ws.onopen = () => add('connected');
            ws.onclose = () => { add('disconnected'); ws = null; };
            ws.onmessage = (event) => {
                const r = JSON.parse(event.data);
                add('[' + r.method_name + '] ' + r.message + (r.data !== null ? ': ' + r.data : ''), r.response_type === 'Ok' ? 'ok' : 'error');
            };
        }
        function send(cmd) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(cmd));
            }
        }
    </script>
</body>
</html>`
