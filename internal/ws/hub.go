package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Hub is the process-wide channel broker. It maps conversation ids to the
// live connections subscribed to them, plus the inverse map used to release
// every subscription when a connection goes away.
type Hub struct {
	rooms   map[int]map[*websocket.Conn]bool
	conns   map[*websocket.Conn]map[int]bool
	info    map[*websocket.Conn]ConnInfo
	writers map[*websocket.Conn]*sync.Mutex
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[int]map[*websocket.Conn]bool),
		conns:   make(map[*websocket.Conn]map[int]bool),
		info:    make(map[*websocket.Conn]ConnInfo),
		writers: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Register records a newly upgraded connection before it joins any channel.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = make(map[int]bool)
	h.info[conn] = info
	h.writers[conn] = &sync.Mutex{}
}

// Join subscribes a connection to a conversation channel.
func (h *Hub) Join(conversationID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[conversationID][conn] = true
	if _, ok := h.conns[conn]; !ok {
		h.conns[conn] = make(map[int]bool)
	}
	h.conns[conn][conversationID] = true
	if _, ok := h.writers[conn]; !ok {
		h.writers[conn] = &sync.Mutex{}
	}
}

// Leave unsubscribes a connection from a conversation channel. No-op if the
// connection was not subscribed.
func (h *Hub) Leave(conversationID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conversationID, conn)
	if channels, ok := h.conns[conn]; ok {
		delete(channels, conversationID)
	}
}

// Disconnect removes the connection from every channel it was subscribed to
// and drops all broker-held references to it.
func (h *Hub) Disconnect(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conversationID := range h.conns[conn] {
		h.removeLocked(conversationID, conn)
	}
	delete(h.conns, conn)
	delete(h.info, conn)
	delete(h.writers, conn)
}

func (h *Hub) removeLocked(conversationID int, conn *websocket.Conn) {
	if subs, ok := h.rooms[conversationID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Subscribed reports whether the connection is currently in the channel.
func (h *Hub) Subscribed(conversationID int, conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[conversationID][conn]
}

// BroadcastNewMessage fans a persisted message out to the conversation's
// subscribers. Callers must persist before broadcasting.
func (h *Hub) BroadcastNewMessage(msg models.Message) {
	h.broadcast(msg.ConversationID, models.Event{Type: models.EventNewMessage, Message: &msg})
}

// BroadcastRead notifies subscribers that a reader caught up on the
// conversation, without re-sending message bodies.
func (h *Hub) BroadcastRead(conversationID int, readerID int) {
	h.broadcast(conversationID, models.Event{Type: models.EventMessagesRead, ConversationID: conversationID, UserID: readerID})
}

// BroadcastTheme notifies subscribers of a theme change.
func (h *Hub) BroadcastTheme(conversationID int, themeID string) {
	h.broadcast(conversationID, models.Event{Type: models.EventThemeChanged, ConversationID: conversationID, Theme: themeID})
}

// broadcast delivers the event best-effort to every current subscriber. A
// failed write evicts only that connection; delivery to the rest proceeds.
// Broadcasting to an empty channel is a silent no-op.
func (h *Hub) broadcast(conversationID int, event models.Event) {
	type target struct {
		conn   *websocket.Conn
		writer *sync.Mutex
	}

	h.mu.RLock()
	subs := make([]target, 0, len(h.rooms[conversationID]))
	for conn := range h.rooms[conversationID] {
		subs = append(subs, target{conn: conn, writer: h.writers[conn]})
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(event)
	for _, sub := range subs {
		observability.IncFanoutDelivery(event.Type)
		if err := h.write(sub.conn, sub.writer, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			h.publishWSError(conversationID, sub.conn, err)
			sub.conn.Close()
			h.Disconnect(sub.conn)
		}
	}

	h.mirror(conversationID, event)
}

// write holds the connection's writer lock around the frame. gorilla/websocket
// permits at most one concurrent writer per connection, and broadcasts may
// arrive from several goroutines at once.
func (h *Hub) write(conn *websocket.Conn, writer *sync.Mutex, payload []byte) error {
	if writer != nil {
		writer.Lock()
		defer writer.Unlock()
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// mirror forwards the event to the AMQP exchange so an external relay can
// fan it out to subscribers connected to other nodes. Failures are counted
// and dropped; local delivery never depends on the mirror.
func (h *Hub) mirror(conversationID int, event models.Event) {
	_ = observability.PublishEvent(context.Background(), "fanout.conversations", observability.EventEnvelope{
		EventType: "fanout",
		EventName: event.Type,
		Payload: map[string]interface{}{
			"conversation_id": conversationID,
			"event":           event,
		},
	}, nil)
}

func (h *Hub) publishWSError(conversationID int, conn *websocket.Conn, err error) {
	h.mu.RLock()
	info, ok := h.info[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           "ws_error",
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
