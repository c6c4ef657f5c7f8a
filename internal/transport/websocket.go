package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/abisig/pkg/types"
)

const (
	// eventBuffer bounds queued events; slow subscribers lose events
	// rather than stall the scan.
	eventBuffer  = 256
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		// Parse the origin URL
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// WebSocketServer streams scan events to connected clients. It satisfies
// the scanner's observer interface.
type WebSocketServer struct {
	logger *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Broadcast channel
	broadcast chan []byte

	// Done channel for shutdown
	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, eventBuffer),
		done:      make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		// Register client
		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected",
			slog.Int("total_clients", total),
		)

		// Handle client disconnect
		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected",
				slog.Int("total_clients", total),
			)
		}()

		// Read messages (mainly for ping/pong)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Start begins the event broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops the WebSocket server.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		// Close all client connections
		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.clientsMu.Unlock()
	})
}

// OnFile queues one file report for broadcast.
func (ws *WebSocketServer) OnFile(report *types.FileReport) {
	ws.publish(types.ScanEvent{Type: types.EventFile, File: report})
}

// OnDone queues the scan summary for broadcast.
func (ws *WebSocketServer) OnDone(summary types.ScanSummary) {
	ws.publish(types.ScanEvent{Type: types.EventDone, Summary: &summary})
}

func (ws *WebSocketServer) publish(event types.ScanEvent) {
	if ws.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		ws.logger.Error("Failed to marshal scan event", slog.String("error", err.Error()))
		return
	}
	select {
	case ws.broadcast <- data:
	default:
		ws.logger.Warn("WebSocket event dropped, subscribers too slow",
			slog.String("type", event.Type),
		)
	}
}

// broadcastLoop forwards queued events to all connected clients.
func (ws *WebSocketServer) broadcastLoop() {
	for {
		select {
		case <-ws.done:
			return
		case data := <-ws.broadcast:
			ws.broadcastMessage(data)
		}
	}
}

// broadcastMessage sends data to all connected clients.
func (ws *WebSocketServer) broadcastMessage(data []byte) {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		if err != nil {
			ws.logger.Debug("Failed to write to WebSocket",
				slog.String("error", err.Error()),
			)
			// Will be cleaned up by the read loop
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
