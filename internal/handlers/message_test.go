package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	grpcclient "messenger-service/internal/grpc"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/ws"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)
	return r
}

func authorizeConversation(convRepo *mocks.ConversationRepositoryMock, conversationID int) {
	convRepo.On("GetConversation", mock.Anything, conversationID).Return(models.Conversation{ID: conversationID, Theme: models.DefaultTheme}, nil).Once()
	convRepo.On("IsParticipant", mock.Anything, conversationID, 1).Return(true, nil).Once()
}

func TestGetMessagesSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserClientMock)
	handler := NewMessageHandler(convRepo, msgRepo, users, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)
	msgRepo.On("ListMessages", mock.Anything, 3, 50).Return([]models.Message{
		{ID: 1, ConversationID: 3, SenderID: 2, Kind: models.KindText, Content: "hello"},
		{ID: 2, ConversationID: 3, SenderID: 1, Kind: models.KindText, Content: "hi"},
	}, nil).Once()
	users.On("BulkUsers", mock.Anything, []int{2, 1}).Return(map[int]grpcclient.UserProfile{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob"},
	}, nil).Once()
	// Receipts are applied in the background after the response is written.
	msgRepo.On("MarkRead", mock.Anything, 3, 1).Return(0, nil).Maybe()

	req := httptest.NewRequest(http.MethodGet, "/conversations/3/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			models.Message
			SenderUsername string `json:"sender_username"`
		} `json:"messages"`
		Theme string `json:"theme"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	require.Equal(t, "bob", resp.Messages[0].SenderUsername)
	require.Equal(t, models.DefaultTheme, resp.Theme)

	convRepo.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestGetMessagesClampsLimit(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserClientMock)
	handler := NewMessageHandler(convRepo, msgRepo, users, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)
	msgRepo.On("ListMessages", mock.Anything, 3, 200).Return([]models.Message{}, nil).Once()
	users.On("BulkUsers", mock.Anything, []int{}).Return(map[int]grpcclient.UserProfile{}, nil).Once()
	msgRepo.On("MarkRead", mock.Anything, 3, 1).Return(0, nil).Maybe()

	req := httptest.NewRequest(http.MethodGet, "/conversations/3/messages?limit=1000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	msgRepo.AssertCalled(t, "ListMessages", mock.Anything, 3, 200)
}

func TestGetMessagesInvalidLimit(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)

	req := httptest.NewRequest(http.MethodGet, "/conversations/3/messages?limit=zero", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	msgRepo.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)
	msgRepo.On("CreateMessage", mock.Anything, 3, 1, models.KindText, "hello", (*int)(nil)).Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1, Kind: models.KindText, Content: "hello"}, nil).Once()
	convRepo.On("UpdateLastMessage", mock.Anything, 3, 10).Return(nil).Once()

	body, _ := json.Marshal(map[string]string{"content": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	require.Equal(t, 10, msg.ID)
	require.Empty(t, msg.ReadBy)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageBlankContent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)

	body, _ := json.Marshal(map[string]string{"content": "   "})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageUnknownKind(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)

	body, _ := json.Marshal(map[string]string{"kind": "video", "content": "https://cdn/x"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageVoiceRequiresDuration(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)

	body, _ := json.Marshal(map[string]any{"kind": models.KindVoice, "content": "https://cdn/audio.ogg"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageVoiceWithDuration(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)
	msgRepo.On("CreateMessage", mock.Anything, 3, 1, models.KindVoice, "https://cdn/audio.ogg", mock.Anything).Return(models.Message{ID: 12, ConversationID: 3, SenderID: 1, Kind: models.KindVoice}, nil).Once()
	convRepo.On("UpdateLastMessage", mock.Anything, 3, 12).Return(nil).Once()

	body, _ := json.Marshal(map[string]any{"kind": models.KindVoice, "content": "https://cdn/audio.ogg", "duration_secs": 14})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageDurationOnTextRejected(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)

	body, _ := json.Marshal(map[string]any{"content": "hi", "duration_secs": 5})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageNotMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 3).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsParticipant", mock.Anything, 3, 1).Return(false, nil).Once()

	body, _ := json.Marshal(map[string]string{"content": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageConversationNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewMessageHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 3).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	body, _ := json.Marshal(map[string]string{"content": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/3/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkReadReportsUpdatedCount(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)
	msgRepo.On("MarkRead", mock.Anything, 3, 1).Return(4, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/3/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 4, resp["updated_count"])
	msgRepo.AssertExpectations(t)
}

func TestMarkReadIdempotent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, new(mocks.UserClientMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	authorizeConversation(convRepo, 3)
	authorizeConversation(convRepo, 3)
	msgRepo.On("MarkRead", mock.Anything, 3, 1).Return(4, nil).Once()
	msgRepo.On("MarkRead", mock.Anything, 3, 1).Return(0, nil).Once()

	for i, want := range []int{4, 0} {
		req := httptest.NewRequest(http.MethodPost, "/conversations/3/read", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		var resp map[string]int
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, want, resp["updated_count"], "request %d", i)
	}
	msgRepo.AssertExpectations(t)
}
