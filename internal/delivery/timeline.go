// Package delivery implements the client-side contract for merging the
// authoritative pull snapshot of a conversation with the best-effort push
// stream. Push may deliver a message the pull already included, or the other
// way around, depending on timing; the timeline converges on exactly one
// copy of each message in a deterministic order.
package delivery

import (
	"sort"

	"messenger-service/internal/models"
)

// Timeline is one viewer's merged local view of a conversation.
type Timeline struct {
	conversationID int
	viewerID       int
	theme          string
	msgs           []models.Message
	seen           map[int]int // message id -> index in msgs
}

// NewTimeline creates an empty timeline for a conversation view.
func NewTimeline(conversationID, viewerID int) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		viewerID:       viewerID,
		theme:          models.DefaultTheme,
		seen:           make(map[int]int),
	}
}

// ApplySnapshot merges a pull snapshot into the view. Called on open and
// again after every reconnect: push events delivered during a disconnect
// window are lost and only recovered here.
func (t *Timeline) ApplySnapshot(msgs []models.Message) {
	for _, msg := range msgs {
		t.ApplyMessage(msg)
	}
}

// Apply routes a push event into the view.
func (t *Timeline) Apply(event models.Event) {
	switch event.Type {
	case models.EventNewMessage:
		if event.Message != nil && event.Message.ConversationID == t.conversationID {
			t.ApplyMessage(*event.Message)
		}
	case models.EventMessagesRead:
		if event.ConversationID == t.conversationID {
			t.ApplyRead(event.UserID)
		}
	case models.EventThemeChanged:
		if event.ConversationID == t.conversationID {
			t.theme = event.Theme
		}
	}
}

// ApplyMessage merges one message into the view, de-duplicating by id. A
// duplicate only contributes its read-by entries: the set grows
// monotonically, so the union of both copies is the freshest state.
func (t *Timeline) ApplyMessage(msg models.Message) {
	if msg.ConversationID != t.conversationID {
		return
	}
	if idx, ok := t.seen[msg.ID]; ok {
		t.msgs[idx].ReadBy = unionReadBy(t.msgs[idx].ReadBy, msg.ReadBy)
		return
	}

	pos := sort.Search(len(t.msgs), func(i int) bool {
		return orderAfter(t.msgs[i], msg)
	})
	t.msgs = append(t.msgs, models.Message{})
	copy(t.msgs[pos+1:], t.msgs[pos:])
	t.msgs[pos] = msg
	for i := pos; i < len(t.msgs); i++ {
		t.seen[t.msgs[i].ID] = i
	}
}

// ApplyRead mirrors a read delta locally: the reader is added to the
// read-by set of every held message they did not send, without a refetch.
func (t *Timeline) ApplyRead(readerID int) {
	for i := range t.msgs {
		if t.msgs[i].SenderID == readerID {
			continue
		}
		t.msgs[i].ReadBy = unionReadBy(t.msgs[i].ReadBy, []int64{int64(readerID)})
	}
}

// Messages returns the merged view ascending by (created_at, id).
func (t *Timeline) Messages() []models.Message {
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// UnreadCount reports how many held messages from other senders the viewer
// has not read.
func (t *Timeline) UnreadCount() int {
	count := 0
	for _, msg := range t.msgs {
		if msg.SenderID != t.viewerID && !msg.ReadByContains(t.viewerID) {
			count++
		}
	}
	return count
}

// Theme returns the last applied conversation theme.
func (t *Timeline) Theme() string {
	return t.theme
}

// orderAfter reports whether a sorts strictly after b. Ties on created_at
// break by id so repeated merges produce a stable order.
func orderAfter(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func unionReadBy(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
