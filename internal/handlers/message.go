package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/ws"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	maxVoiceDurationSecs = 600
)

// MessageHandler manages message history, sending and read receipts.
type MessageHandler struct {
	conversationRepo repositories.ConversationRepository
	messageRepo      repositories.MessageRepository
	users            UserDirectory
	hub              *ws.Hub
	audit            Auditor
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(conversationRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, users UserDirectory, hub *ws.Hub, audit Auditor) *MessageHandler {
	return &MessageHandler{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		users:            users,
		hub:              hub,
		audit:            audit,
	}
}

// GetMessages returns the newest messages of a conversation in
// chronological order. Fetching history marks the conversation read for the
// caller in the background, so receipts never delay the response.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conv, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}

	userID := c.GetInt("userID")
	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), conv.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	profiles, err := h.users.BulkUsers(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load senders"})
		return
	}

	type messageResponse struct {
		models.Message
		SenderUsername string `json:"sender_username,omitempty"`
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderUsername: profiles[m.SenderID].Username})
	}

	go h.markReadAsync(conv.ID, userID)

	c.JSON(http.StatusOK, gin.H{"messages": resp, "theme": conv.Theme})
}

// PostMessage stores a message and fans it out to channel subscribers.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conv, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	var req struct {
		Kind         string `json:"kind"`
		Content      string `json:"content" binding:"required"`
		DurationSecs *int   `json:"duration_secs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = models.KindText
	}
	if !models.ValidKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown message kind"})
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
		return
	}
	if kind != models.KindText && !strings.HasPrefix(content, "http") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media messages need a media url"})
		return
	}

	var duration *int
	if kind == models.KindVoice {
		if req.DurationSecs == nil || *req.DurationSecs <= 0 || *req.DurationSecs > maxVoiceDurationSecs {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voice duration"})
			return
		}
		duration = req.DurationSecs
	} else if req.DurationSecs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration only applies to voice messages"})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), conv.ID, userID, kind, content, duration)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	if err := h.conversationRepo.UpdateLastMessage(c.Request.Context(), conv.ID, msg.ID); err != nil {
		// The pointer heals on the next send; the message itself is durable.
		h.emitAudit(c, "WARN", "last message pointer update failed conversation="+strconv.Itoa(conv.ID))
	}

	h.hub.BroadcastNewMessage(msg)
	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks every message in the conversation read for the caller and
// reports how many messages gained the receipt.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conv, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	updated, err := h.messageRepo.MarkRead(c.Request.Context(), conv.ID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}

	if updated > 0 {
		h.hub.BroadcastRead(conv.ID, userID)
	}
	c.JSON(http.StatusOK, gin.H{"updated_count": updated})
}

// authorizedConversation mirrors ConversationHandler's membership gate.
func (h *MessageHandler) authorizedConversation(c *gin.Context) (models.Conversation, bool) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return models.Conversation{}, false
	}

	userID := c.GetInt("userID")
	conv, err := h.conversationRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return models.Conversation{}, false
	}

	member, err := h.conversationRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return models.Conversation{}, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return models.Conversation{}, false
	}
	return conv, true
}

// markReadAsync applies read receipts after a history fetch. It runs off the
// request context so a client disconnect does not cancel the receipt write.
func (h *MessageHandler) markReadAsync(conversationID, userID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updated, err := h.messageRepo.MarkRead(ctx, conversationID, userID)
	if err != nil || updated == 0 {
		return
	}
	h.hub.BroadcastRead(conversationID, userID)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
