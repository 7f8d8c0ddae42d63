package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidTheme         = errors.New("invalid theme")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindOrCreateDirect(ctx context.Context, userID int, friendID int) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	Participants(ctx context.Context, conversationID int) ([]int, error)
	ListConversations(ctx context.Context, userID int) ([]models.Conversation, error)
	UpdateLastMessage(ctx context.Context, conversationID int, messageID int) error
	SetTheme(ctx context.Context, conversationID int, themeID string) (models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, is_group, name, theme, last_message_id, user_lo, user_hi, created_at`

// FindOrCreateDirect returns the direct conversation for the pair, creating
// it if absent. The sorted pair is backed by a unique index, so a concurrent
// create surfaces as an insert conflict and the existing row is re-read
// instead of a duplicate appearing.
func (r *ConversationRepo) FindOrCreateDirect(ctx context.Context, userID int, friendID int) (models.Conversation, bool, error) {
	if userID == friendID {
		return models.Conversation{}, false, errors.New("cannot create conversation with self")
	}
	pair := []int{userID, friendID}
	sort.Ints(pair)
	lo, hi := pair[0], pair[1]

	var conv models.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE is_group = FALSE AND user_lo=$1 AND user_hi=$2`
	err := r.db.GetContext(ctx, &conv, query, lo, hi)
	if err == nil {
		conv.Participants = []int{lo, hi}
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	created, err := r.insertDirect(ctx, lo, hi)
	if err != nil {
		return models.Conversation{}, false, err
	}
	if created != nil {
		created.Participants = []int{lo, hi}
		return *created, true, nil
	}

	// Lost the race; the other creator's row is authoritative.
	if err := r.db.GetContext(ctx, &conv, query, lo, hi); err != nil {
		return models.Conversation{}, false, err
	}
	conv.Participants = []int{lo, hi}
	return conv, false, nil
}

func (r *ConversationRepo) insertDirect(ctx context.Context, lo, hi int) (*models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (is_group, user_lo, user_hi)
        VALUES (FALSE, $1, $2)
        ON CONFLICT (user_lo, user_hi) WHERE is_group = FALSE DO NOTHING
        RETURNING `+conversationColumns, lo, hi).StructScan(&conv)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.Rollback()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	for _, id := range []int{lo, hi} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, id); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateGroup creates a group conversation and its members atomically.
func (r *ConversationRepo) CreateGroup(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (is_group, name) VALUES (TRUE, $1) RETURNING `+conversationColumns, name).
		StructScan(&conv); err != nil {
		return models.Conversation{}, err
	}

	// ensure owner present and dedupe members
	memberSet := map[int]struct{}{ownerID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]int, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, id); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	conv.Participants = ids
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// Participants returns the participant user ids of a conversation.
func (r *ConversationRepo) Participants(ctx context.Context, conversationID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

// ListConversations returns the conversations the user participates in,
// newest first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID int) ([]models.Conversation, error) {
	var convs []models.Conversation
	query := `SELECT c.id, c.is_group, c.name, c.theme, c.last_message_id, c.user_lo, c.user_hi, c.created_at
        FROM conversations c
        INNER JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE cp.user_id=$1
        ORDER BY c.created_at DESC`
	err := r.db.SelectContext(ctx, &convs, query, userID)
	return convs, err
}

// UpdateLastMessage advances the denormalized last-message pointer. Called
// after the message insert succeeds, in a separate statement: a crash in
// between leaves the pointer stale until the next send repairs it.
func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, conversationID int, messageID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message_id=$2 WHERE id=$1`, conversationID, messageID)
	return err
}

// SetTheme updates the conversation theme after validating it against the
// catalog.
func (r *ConversationRepo) SetTheme(ctx context.Context, conversationID int, themeID string) (models.Conversation, error) {
	if !models.ValidTheme(themeID) {
		return models.Conversation{}, ErrInvalidTheme
	}
	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx, `UPDATE conversations SET theme=$2 WHERE id=$1 RETURNING `+conversationColumns, conversationID, themeID).
		StructScan(&conv)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}
