package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID int, senderID int, kind string, content string, durationSecs *int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, limit int) ([]models.Message, error)
	MessagesByIDs(ctx context.Context, messageIDs []int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID int, readerID int) (int, error)
	UnreadCounts(ctx context.Context, userID int) (map[int]int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, kind, content, duration_secs, read_by, created_at`

// CreateMessage stores a message. The created_at/id pair assigned here is
// the ordering key clients merge on.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int, senderID int, kind string, content string, durationSecs *int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, kind, content, duration_secs)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+messageColumns, conversationID, senderID, kind, content, durationSecs).
		StructScan(&msg)
	return msg, err
}

// ListMessages returns the newest limit messages of the conversation,
// reordered ascending by (created_at, id) for the client.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM (
            SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) newest
        ORDER BY created_at ASC, id ASC`, conversationID, limit)
	return msgs, err
}

// MessagesByIDs fetches messages by id, used to denormalize last-message
// pointers on the conversation list.
func (r *MessageRepo) MessagesByIDs(ctx context.Context, messageIDs []int) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return []models.Message{}, nil
	}
	ids := make(pq.Int64Array, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, int64(id))
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids)
	return msgs, err
}

// MarkRead adds the reader to the read-by set of every message in the
// conversation they have not read and did not send. The guarded append is a
// single statement, so concurrent readers commute and repeated calls are
// no-ops. Returns the number of messages newly marked.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int, readerID int) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_by = read_by || $2::BIGINT
        WHERE conversation_id=$1
        AND sender_id <> $3
        AND NOT (read_by @> ARRAY[$2::BIGINT])`, conversationID, int64(readerID), readerID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// UnreadCounts returns, per conversation the user participates in, how many
// messages from other senders the user has not read.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT m.conversation_id, COUNT(*) FROM messages m
        INNER JOIN conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id=$1
        WHERE m.sender_id <> $1
        AND NOT (m.read_by @> ARRAY[$2::BIGINT])
        GROUP BY m.conversation_id`, userID, int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[int]int{}
	for rows.Next() {
		var conversationID, count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, err
		}
		counts[conversationID] = count
	}
	return counts, rows.Err()
}
