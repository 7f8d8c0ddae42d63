package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
)

func dialTestServer(t *testing.T, handler *Handler) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", handler.Handle)
	server := httptest.NewServer(r)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=test-token"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return server, conn
}

func (h *Hub) channelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func TestHandlerRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "bad").Return(0, websocket.ErrBadHandshake).Once()

	handler := NewHandler(NewHub(), new(mocks.ConversationRepositoryMock), auth)
	r := gin.New()
	r.GET("/ws", handler.Handle)

	req := httptest.NewRequest(http.MethodGet, "/ws?token=bad", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	auth.AssertExpectations(t)
}

func TestHandlerJoinAndReceiveBroadcast(t *testing.T) {
	hub := NewHub()
	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "test-token").Return(5, nil).Once()
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, 9, 5).Return(true, nil).Once()

	handler := NewHandler(hub, convRepo, auth)
	server, conn := dialTestServer(t, handler)
	defer server.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ControlEvent{Type: models.EventJoinChat, ConversationID: 9}))
	require.Eventually(t, func() bool { return hub.channelCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastNewMessage(models.Message{ID: 3, ConversationID: 9, SenderID: 5, Kind: models.KindText, Content: "hi"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var event models.Event
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, models.EventNewMessage, event.Type)
	require.NotNil(t, event.Message)
	require.Equal(t, 3, event.Message.ID)
	require.Equal(t, "hi", event.Message.Content)

	auth.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}

func TestHandlerJoinChecksMembershipOnLiveContext(t *testing.T) {
	hub := NewHub()
	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "test-token").Return(5, nil).Once()

	// The join frame arrives long after the upgrade handler has returned and
	// its request context was canceled. The membership check must still run
	// on a live context or the real repository rejects every join.
	ctxErrs := make(chan error, 1)
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, 9, 5).
		Run(func(args mock.Arguments) { ctxErrs <- args.Get(0).(context.Context).Err() }).
		Return(true, nil).Once()

	handler := NewHandler(hub, convRepo, auth)
	server, conn := dialTestServer(t, handler)
	defer server.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ControlEvent{Type: models.EventJoinChat, ConversationID: 9}))

	select {
	case err := <-ctxErrs:
		require.NoError(t, err, "membership check ran on a canceled context")
	case <-time.After(time.Second):
		t.Fatal("membership check was never invoked")
	}
	require.Eventually(t, func() bool { return hub.channelCount() == 1 }, time.Second, 10*time.Millisecond)

	auth.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}

func TestHandlerConcurrentBroadcastsDeliverAll(t *testing.T) {
	hub := NewHub()
	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "test-token").Return(5, nil).Once()
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, 9, 5).Return(true, nil).Once()

	handler := NewHandler(hub, convRepo, auth)
	server, conn := dialTestServer(t, handler)
	defer server.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ControlEvent{Type: models.EventJoinChat, ConversationID: 9}))
	require.Eventually(t, func() bool { return hub.channelCount() == 1 }, time.Second, 10*time.Millisecond)

	// Message fanout racing read receipts from a background goroutine hits
	// the same connection from two writers.
	const rounds = 25
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			hub.BroadcastNewMessage(models.Message{ID: i + 1, ConversationID: 9, SenderID: 5, Kind: models.KindText, Content: "hi"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			hub.BroadcastRead(9, 5)
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for i := 0; i < 2*rounds; i++ {
		var event models.Event
		require.NoError(t, conn.ReadJSON(&event))
	}
	wg.Wait()
	require.Equal(t, 1, hub.channelCount(), "connection should stay subscribed after concurrent fanout")

	auth.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}

func TestHandlerJoinRejectedForNonMember(t *testing.T) {
	hub := NewHub()
	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "test-token").Return(5, nil).Once()
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, 77, 5).Return(false, nil).Once()

	handler := NewHandler(hub, convRepo, auth)
	server, conn := dialTestServer(t, handler)
	defer server.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ControlEvent{Type: models.EventJoinChat, ConversationID: 77}))

	// The server closes the connection instead of subscribing.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Equal(t, 0, hub.channelCount())

	auth.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}

func TestHandlerLeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	auth := new(mocks.TokenValidatorMock)
	auth.On("ValidateToken", mock.Anything, "test-token").Return(5, nil).Once()
	convRepo := new(mocks.ConversationRepositoryMock)
	convRepo.On("IsParticipant", mock.Anything, 9, 5).Return(true, nil).Once()

	handler := NewHandler(hub, convRepo, auth)
	server, conn := dialTestServer(t, handler)
	defer server.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ControlEvent{Type: models.EventJoinChat, ConversationID: 9}))
	require.Eventually(t, func() bool { return hub.channelCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(models.ControlEvent{Type: models.EventLeaveChat, ConversationID: 9}))
	require.Eventually(t, func() bool { return hub.channelCount() == 0 }, time.Second, 10*time.Millisecond)

	hub.BroadcastRead(9, 5)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "no event should be delivered after leaving")

	auth.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}
