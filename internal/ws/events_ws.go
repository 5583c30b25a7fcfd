package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skrumble/skrumble-go/internal/observability"
	"github.com/skrumble/skrumble-go/skrumble"
)

var errInvalidToken = errors.New("invalid token")

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// EventsWebSocketHandler streams push events to websocket subscribers.
type EventsWebSocketHandler struct {
	hub   *Hub
	auth  TokenValidator
	ready func() bool
}

// NewEventsWebSocketHandler constructs an EventsWebSocketHandler. ready
// reports whether the upstream socket is connected; nil means always.
func NewEventsWebSocketHandler(hub *Hub, auth TokenValidator, ready func() bool) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{hub: hub, auth: auth, ready: ready}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and subscribes it to ?category= (all
// categories when omitted).
func (h *EventsWebSocketHandler) Handle(c *gin.Context) {
	category := c.DefaultQuery("category", AllCategories)
	if !skrumble.EventCategory(category).Known() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event category"})
		return
	}

	ctx, span := otel.Tracer("skrumble-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.String("ws.category", category))
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.validateToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if h.ready != nil && !h.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "platform socket not connected"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	requestID := observability.RequestIDFromRequest(c.Request)
	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		ClientID:    observability.ClientIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(category, conn, info)

	observability.IncWSActive(category)
	publishWSEvent(ctx, category, "ws_connect", info, "")

	// Subscribers only listen; reading detects the close.
	connCtx := context.WithoutCancel(ctx)
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(category, conn)
			observability.DecWSActive(category)
			publishWSEvent(connCtx, category, "ws_disconnect", info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					publishWSEvent(connCtx, category, "ws_error", info, closeReason)
				}
				return
			}
		}
	}()
}

func (h *EventsWebSocketHandler) validateToken(c *gin.Context) (string, error) {
	token := ""
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", errInvalidToken
		}
		token = value
	} else {
		token = c.Query("token")
	}
	if token == "" {
		return "", errInvalidToken
	}
	return h.auth.ValidateToken(token)
}
