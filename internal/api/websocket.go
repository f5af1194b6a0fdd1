package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/RebootGod/catalogsync/internal/bulksync"
)

const (
	EventSyncProgress        = "sync:progress"
	EventSyncCancelRequested = "sync:cancel_requested"
)

// ──────────────────── WebSocket Hub ────────────────────

type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool

	syncsMu     sync.RWMutex
	activeSyncs map[string]json.RawMessage // progress key → last sync:progress message
}

type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

type WSMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:     make(map[*WSClient]bool),
		activeSyncs: make(map[string]json.RawMessage),
	}
}

func (h *WSHub) Broadcast(event string, data any) {
	msg, err := json.Marshal(WSMessage{Event: event, Data: data})
	if err != nil {
		return
	}
	h.broadcastRaw(msg)
}

func (h *WSHub) broadcastRaw(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// PublishProgress pushes a record write to every client and keeps it as
// the snapshot for clients connecting later, until the run finishes.
func (h *WSHub) PublishProgress(rec *bulksync.Record) {
	msg, err := json.Marshal(WSMessage{Event: EventSyncProgress, Data: rec})
	if err != nil {
		return
	}

	h.syncsMu.Lock()
	if rec.Completed {
		delete(h.activeSyncs, rec.ProgressKey)
	} else {
		h.activeSyncs[rec.ProgressKey] = json.RawMessage(msg)
	}
	h.syncsMu.Unlock()

	h.broadcastRaw(msg)
}

// ActiveSyncs returns the number of runs the hub has seen start but not finish.
func (h *WSHub) ActiveSyncs() int {
	h.syncsMu.RLock()
	defer h.syncsMu.RUnlock()
	return len(h.activeSyncs)
}

// sendActiveSyncs replays current sync state to a newly connected client.
func (h *WSHub) sendActiveSyncs(client *WSClient) {
	h.syncsMu.RLock()
	defer h.syncsMu.RUnlock()
	for _, msg := range h.activeSyncs {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) addClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) removeClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────── WebSocket Handler ────────────────────

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.wsHub.addClient(client)
	s.wsHub.sendActiveSyncs(client)
	log.Printf("WebSocket client connected: %s", r.RemoteAddr)

	ctx := r.Context()

	// Writer goroutine
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop keeps the connection alive until the client leaves.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.wsHub.removeClient(client)
	log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
}
