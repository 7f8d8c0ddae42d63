package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	grpcclient "messenger-service/internal/grpc"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/ws"
)

// UserDirectory is the slice of the user service the handlers need.
type UserDirectory interface {
	AreFriends(ctx context.Context, userID, friendID int) (bool, error)
	BulkUsers(ctx context.Context, ids []int) (map[int]grpcclient.UserProfile, error)
}

// ConversationHandler manages conversation listing, creation and settings.
type ConversationHandler struct {
	conversationRepo repositories.ConversationRepository
	messageRepo      repositories.MessageRepository
	users            UserDirectory
	hub              *ws.Hub
	audit            Auditor
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversationRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, users UserDirectory, hub *ws.Hub, audit Auditor) *ConversationHandler {
	return &ConversationHandler{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		users:            users,
		hub:              hub,
		audit:            audit,
	}
}

// ListConversations returns the caller's conversations as summaries with
// last message, unread count and, for direct conversations, the friend's name.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	convs, err := h.conversationRepo.ListConversations(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	lastIDs := make([]int, 0, len(convs))
	friendIDs := make([]int, 0, len(convs))
	for _, conv := range convs {
		if conv.LastMessageID != nil {
			lastIDs = append(lastIDs, *conv.LastMessageID)
		}
		if !conv.IsGroup {
			if friendID, ok := directPeer(conv, userID); ok {
				friendIDs = append(friendIDs, friendID)
			}
		}
	}

	lastByID := map[int]models.Message{}
	if len(lastIDs) > 0 {
		lastMsgs, err := h.messageRepo.MessagesByIDs(ctx, lastIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load last messages"})
			return
		}
		for _, m := range lastMsgs {
			lastByID[m.ID] = m
		}
	}

	unread, err := h.messageRepo.UnreadCounts(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}

	profiles, err := h.users.BulkUsers(ctx, friendIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load user info"})
		return
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := models.ConversationSummary{
			ConversationID: conv.ID,
			IsGroup:        conv.IsGroup,
			Name:           conv.Name,
			Theme:          conv.Theme,
			UnreadCount:    unread[conv.ID],
			CreatedAt:      conv.CreatedAt,
		}
		if conv.LastMessageID != nil {
			if msg, ok := lastByID[*conv.LastMessageID]; ok {
				summary.LastMessage = &msg
			}
		}
		if !conv.IsGroup {
			if friendID, ok := directPeer(conv, userID); ok {
				summary.FriendID = friendID
				if profile, ok := profiles[friendID]; ok {
					summary.Name = profile.Username
				}
			}
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetConversation returns one conversation with its participant set.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	participants, err := h.conversationRepo.Participants(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	conv.Participants = participants

	c.JSON(http.StatusOK, conv)
}

// StartDirect creates or returns the direct conversation with a friend.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		FriendID int `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.FriendID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	friends, err := h.users.AreFriends(c.Request.Context(), userID, req.FriendID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to validate friendship"})
		return
	}
	if !friends {
		c.JSON(http.StatusForbidden, gin.H{"error": "users are not friends"})
		return
	}

	conv, created, err := h.conversationRepo.FindOrCreateDirect(c.Request.Context(), userID, req.FriendID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	if created {
		h.emitAudit(c, "INFO", "direct conversation created id="+strconv.Itoa(conv.ID))
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "is_new": created})
}

// CreateGroup creates a group conversation owned by the caller.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		MemberIDs []int  `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name is required"})
		return
	}

	members := map[int]struct{}{userID: {}}
	for _, id := range req.MemberIDs {
		if id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
			return
		}
		members[id] = struct{}{}
	}
	if len(members) < 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a group needs at least three members"})
		return
	}

	memberIDs := make([]int, 0, len(members))
	for id := range members {
		if id != userID {
			memberIDs = append(memberIDs, id)
		}
	}

	conv, err := h.conversationRepo.CreateGroup(c.Request.Context(), userID, name, memberIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "group conversation created id="+strconv.Itoa(conv.ID))
	c.JSON(http.StatusCreated, conv)
}

// GetTheme returns the conversation's theme along with the full catalog.
func (h *ConversationHandler) GetTheme(c *gin.Context) {
	conv, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"theme":  conv.Theme,
		"themes": models.Themes(),
	})
}

// SetTheme updates the conversation theme and pushes the change to
// all subscribers.
func (h *ConversationHandler) SetTheme(c *gin.Context) {
	conv, ok := h.authorizedConversation(c)
	if !ok {
		return
	}

	var req struct {
		Theme string `json:"theme" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidTheme(req.Theme) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown theme"})
		return
	}

	updated, err := h.conversationRepo.SetTheme(c.Request.Context(), conv.ID, req.Theme)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidTheme) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown theme"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update theme"})
		return
	}

	h.hub.BroadcastTheme(conv.ID, updated.Theme)
	c.JSON(http.StatusOK, gin.H{"theme": updated.Theme})
}

// authorizedConversation loads the :conversation_id conversation and verifies
// the caller is a participant, writing the error response itself on failure.
func (h *ConversationHandler) authorizedConversation(c *gin.Context) (models.Conversation, bool) {
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

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

// directPeer returns the other participant of a direct conversation.
func directPeer(conv models.Conversation, userID int) (int, bool) {
	if conv.UserLo != nil && conv.UserHi != nil {
		if *conv.UserLo == userID {
			return *conv.UserHi, true
		}
		if *conv.UserHi == userID {
			return *conv.UserLo, true
		}
	}
	for _, id := range conv.Participants {
		if id != userID {
			return id, true
		}
	}
	return 0, false
}
