// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, metrics, and the built-in test page.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades GET requests and serves each connection with a
// Session bound to registry. The session lives until the peer leaves, the
// heartbeat fails, or ctx is cancelled.
func WebSocketHandler(ctx context.Context, registry *Registry, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionLogger := logger.Named("session")
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originGuard{logger: logger.Named("origin")}.check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Info("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			return
		}

		cfg := currentConfig()
		session := NewSession(registry, newWSConn(conn, cfg.MaxMessageSize), sessionLogger, nil)
		if err := session.Run(ctx); err != nil {
			sessionLogger.Info("session ended with error", zap.Error(err))
		}
	}
}

// HealthHandler reports that the server is up along with the visitor count.
func HealthHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "Room chat server is running! Total visitors %d", registry.Visitors())
	}
}

// TestPageHandler serves an HTML page for trying the command protocol from a
// browser.
func TestPageHandler(logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := fmt.Fprint(w, testPage); err != nil {
			logger.Warn("error writing HTML response", zap.Error(err))
		}
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Chat Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 8px; overflow-y: scroll; margin: 10px 0; }
        input[type="text"] { width: 360px; padding: 4px; }
    </style>
</head>
<body>
    <h1>Room Chat Test</h1>
    <p>Commands: /join &lt;room&gt;, /name &lt;name&gt;, /list, /chess_step &lt;payload&gt;. Anything else is chat.</p>
    <div id="status">Disconnected</div>
    <div>
        <input type="text" id="line" placeholder="Type a message or command..." disabled>
        <button id="connect" onclick="toggle()">Connect</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const log = document.getElementById('log');
        const line = document.getElementById('line');
        const status = document.getElementById('status');
        const button = document.getElementById('connect');

        function append(text) {
            const row = document.createElement('div');
            row.textContent = text;
            log.appendChild(row);
            log.scrollTop = log.scrollHeight;
        }

        function setConnected(connected) {
            status.textContent = connected ? 'Connected' : 'Disconnected';
            line.disabled = !connected;
            button.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggle() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => setConnected(true);
            ws.onmessage = (event) => append(event.data);
            ws.onclose = () => { setConnected(false); ws = null; };
        }

        line.addEventListener('keypress', (e) => {
            if (e.key === 'Enter' && line.value.trim() && ws) {
                ws.send(line.value);
                append('> ' + line.value);
                line.value = '';
            }
        });
    </script>
</body>
</html>`
