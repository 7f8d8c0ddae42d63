package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

func msgAt(id, sender int, at time.Time) models.Message {
	return models.Message{ID: id, ConversationID: 1, SenderID: sender, Kind: models.KindText, Content: "m", CreatedAt: at}
}

func ids(msgs []models.Message) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestTimelineOrdersByCreatedAtThenID(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)

	tl.ApplyMessage(msgAt(3, 2, base.Add(2*time.Second)))
	tl.ApplyMessage(msgAt(1, 2, base))
	tl.ApplyMessage(msgAt(5, 2, base.Add(time.Second)))
	tl.ApplyMessage(msgAt(4, 2, base.Add(time.Second)))

	require.Equal(t, []int{1, 4, 5, 3}, ids(tl.Messages()))
}

func TestTimelinePushPullOverlapConverges(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pushed := msgAt(2, 2, base.Add(time.Second))

	// Push arrives first, then a snapshot that already contains the same
	// message plus older history.
	tl := NewTimeline(1, 1)
	tl.Apply(models.Event{Type: models.EventNewMessage, Message: &pushed})
	tl.ApplySnapshot([]models.Message{msgAt(1, 2, base), pushed})

	// Opposite interleaving.
	other := NewTimeline(1, 1)
	other.ApplySnapshot([]models.Message{msgAt(1, 2, base), pushed})
	other.Apply(models.Event{Type: models.EventNewMessage, Message: &pushed})

	require.Equal(t, []int{1, 2}, ids(tl.Messages()))
	require.Equal(t, ids(tl.Messages()), ids(other.Messages()))
}

func TestTimelineDuplicateMergesReadBy(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)

	stale := msgAt(1, 2, base)
	stale.ReadBy = []int64{3}
	fresh := msgAt(1, 2, base)
	fresh.ReadBy = []int64{4}

	tl.ApplyMessage(stale)
	tl.ApplyMessage(fresh)

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, []int64{3, 4}, []int64(msgs[0].ReadBy))
}

func TestTimelineReadDeltaSkipsReaderOwnMessages(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)
	tl.ApplySnapshot([]models.Message{
		msgAt(1, 1, base),
		msgAt(2, 2, base.Add(time.Second)),
	})

	tl.Apply(models.Event{Type: models.EventMessagesRead, ConversationID: 1, UserID: 2})

	msgs := tl.Messages()
	require.True(t, msgs[0].ReadByContains(2), "reader should be marked on the other sender's message")
	require.False(t, msgs[1].ReadByContains(2), "reader is never marked on their own message")
}

func TestTimelineReadDeltaIsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)
	tl.ApplySnapshot([]models.Message{msgAt(1, 1, base)})

	tl.ApplyRead(2)
	tl.ApplyRead(2)

	require.Equal(t, []int64{2}, []int64(tl.Messages()[0].ReadBy))
}

func TestTimelineUnreadCount(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)

	read := msgAt(1, 2, base)
	read.ReadBy = []int64{1}
	tl.ApplySnapshot([]models.Message{
		read,
		msgAt(2, 2, base.Add(time.Second)),
		msgAt(3, 1, base.Add(2*time.Second)),
	})

	require.Equal(t, 1, tl.UnreadCount())

	tl.ApplyRead(1)
	require.Equal(t, 0, tl.UnreadCount())
}

func TestTimelineIgnoresOtherConversations(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)

	foreign := msgAt(1, 2, base)
	foreign.ConversationID = 99
	tl.ApplyMessage(foreign)
	tl.Apply(models.Event{Type: models.EventThemeChanged, ConversationID: 99, Theme: "ocean"})

	require.Empty(t, tl.Messages())
	require.Equal(t, models.DefaultTheme, tl.Theme())
}

func TestTimelineThemeFollowsLastEvent(t *testing.T) {
	tl := NewTimeline(1, 1)

	tl.Apply(models.Event{Type: models.EventThemeChanged, ConversationID: 1, Theme: "ocean"})
	tl.Apply(models.Event{Type: models.EventThemeChanged, ConversationID: 1, Theme: "mint"})

	require.Equal(t, "mint", tl.Theme())
}

func TestTimelineSnapshotReplayAfterReconnect(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline(1, 1)
	tl.ApplySnapshot([]models.Message{msgAt(1, 2, base)})

	// Messages 2 and 3 were pushed during a disconnect window and lost; the
	// reconnect snapshot recovers them.
	tl.ApplySnapshot([]models.Message{
		msgAt(1, 2, base),
		msgAt(2, 2, base.Add(time.Second)),
		msgAt(3, 1, base.Add(2*time.Second)),
	})

	require.Equal(t, []int{1, 2, 3}, ids(tl.Messages()))
}
