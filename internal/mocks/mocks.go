package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	grpcclient "messenger-service/internal/grpc"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreateDirect(ctx context.Context, userID int, friendID int) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, friendID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Conversation, error) {
	args := m.Called(ctx, ownerID, name, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) Participants(ctx context.Context, conversationID int) ([]int, error) {
	args := m.Called(ctx, conversationID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, userID int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ConversationRepositoryMock) UpdateLastMessage(ctx context.Context, conversationID int, messageID int) error {
	args := m.Called(ctx, conversationID, messageID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetTheme(ctx context.Context, conversationID int, themeID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, themeID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID int, senderID int, kind string, content string, durationSecs *int) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, kind, content, durationSecs)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MessagesByIDs(ctx context.Context, messageIDs []int) ([]models.Message, error) {
	args := m.Called(ctx, messageIDs)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID int, readerID int) (int, error) {
	args := m.Called(ctx, conversationID, readerID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	args := m.Called(ctx, userID)
	var counts map[int]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int]int)
	}
	return counts, args.Error(1)
}

type UserClientMock struct {
	mock.Mock
}

func (m *UserClientMock) AreFriends(ctx context.Context, userID, friendID int) (bool, error) {
	args := m.Called(ctx, userID, friendID)
	return args.Bool(0), args.Error(1)
}

func (m *UserClientMock) BulkUsers(ctx context.Context, ids []int) (map[int]grpcclient.UserProfile, error) {
	args := m.Called(ctx, ids)
	var profiles map[int]grpcclient.UserProfile
	if val := args.Get(0); val != nil {
		profiles = val.(map[int]grpcclient.UserProfile)
	}
	return profiles, args.Error(1)
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, level, text, requestID string, userID *int64) {
	m.Called(ctx, level, text, requestID, userID)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
)
