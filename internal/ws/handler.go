package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// TokenValidator verifies a bearer token and returns the user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// Handler owns the websocket endpoint. One connection may subscribe to any
// number of conversation channels through join-chat/leave-chat control
// events; membership is re-validated on every join.
type Handler struct {
	hub              *Hub
	conversationRepo repositories.ConversationRepository
	auth             TokenValidator
}

// NewHandler constructs a websocket Handler.
func NewHandler(hub *Hub, conversationRepo repositories.ConversationRepository, auth TokenValidator) *Handler {
	return &Handler{hub: hub, conversationRepo: conversationRepo, auth: auth}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs its control-event loop.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.Register(conn, info)

	observability.IncWSActive()
	h.publishLifecycleEvent(ctx, info, "ws_connect", "")

	// net/http cancels the request context once this handler returns, even
	// on a hijacked connection. The read loop validates joins against the
	// repository for as long as the connection lives, so it gets a context
	// that keeps the span values but not the cancellation.
	go h.readLoop(context.WithoutCancel(ctx), conn, info)
}

// readLoop consumes control events until the connection closes, then
// releases every subscription the connection held.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Disconnect(conn)
		observability.DecWSActive()
		h.publishLifecycleEvent(ctx, info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		var control models.ControlEvent
		if err := conn.ReadJSON(&control); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publishLifecycleEvent(ctx, info, "ws_error", closeReason)
			}
			return
		}

		switch control.Type {
		case models.EventJoinChat:
			member, err := h.conversationRepo.IsParticipant(ctx, control.ConversationID, info.UserID)
			if err != nil || !member {
				closeReason = fmt.Sprintf("join rejected for conversation %d", control.ConversationID)
				return
			}
			h.hub.Join(control.ConversationID, conn)
			observability.IncWSEvent("join")
		case models.EventLeaveChat:
			h.hub.Leave(control.ConversationID, conn)
			observability.IncWSEvent("leave")
		}
	}
}

func (h *Handler) publishLifecycleEvent(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func (h *Handler) validateToken(ctx context.Context, header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.auth.ValidateToken(ctx, parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}
