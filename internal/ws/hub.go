package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skrumble/skrumble-go/internal/models"
	"github.com/skrumble/skrumble-go/internal/observability"
)

// AllCategories is the room of subscribers that receive every event.
const AllCategories = "*"

const writeWait = 5 * time.Second

// Hub maintains websocket subscribers grouped by push-event category.
type Hub struct {
	rooms  map[string]map[*websocket.Conn]ConnInfo
	mu     sync.RWMutex
	sendMu sync.Mutex
	log    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*websocket.Conn]ConnInfo),
		log:   log,
	}
}

// AddClient registers a websocket connection for one category, or for
// AllCategories.
func (h *Hub) AddClient(category string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[category]; !ok {
		h.rooms[category] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[category][conn] = info
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(category string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[category]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, category)
		}
	}
}

// Count returns the number of subscribers of a category room.
func (h *Hub) Count(category string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[category])
}

type target struct {
	room string
	conn *websocket.Conn
	info ConnInfo
}

func (h *Hub) targets(category string) []target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []target
	for _, room := range []string{category, AllCategories} {
		for conn, info := range h.rooms[room] {
			out = append(out, target{room: room, conn: conn, info: info})
		}
	}
	return out
}

// Broadcast sends event to the subscribers of its category and to
// AllCategories subscribers. Connections that fail a write are closed and
// removed.
func (h *Hub) Broadcast(event models.StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("websocket encode event", "error", err)
		return
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	for _, t := range h.targets(event.Category) {
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Warn("websocket write error", "conn_id", t.info.ConnID, "error", err)
			t.conn.Close()
			h.RemoveClient(t.room, t.conn)
			h.publishWSError(t.room, t.info, err)
			continue
		}
		observability.IncWSEvent(t.room, "ws_delivered")
	}
}

func (h *Hub) publishWSError(category string, info ConnInfo, err error) {
	publishWSEvent(context.Background(), category, "ws_error", info, err.Error())
}

// publishWSEvent reports a subscriber lifecycle event to metrics and AMQP.
func publishWSEvent(ctx context.Context, category, event string, info ConnInfo, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"category":    category,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"client_id": info.ClientID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey(category), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(category, event)
}

func wsRoutingKey(category string) string {
	if category == AllCategories {
		return "ws_events.all"
	}
	return "ws_events." + category
}
