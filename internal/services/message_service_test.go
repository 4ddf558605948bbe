package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/models"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

func newMessageFixture(t *testing.T) (*gorm.DB, *ChatService, *MessageService, *models.Chat) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	chats, err := NewChatService(db)
	require.NoError(t, err)

	messages, err := NewMessageService(db, chats, nil, nil)
	require.NoError(t, err)

	chat, err := chats.EnsureDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	return db, chats, messages, chat
}

func TestSendMessageRejectsEmptyPayload(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	_, err := messages.Send(context.Background(), SendMessageParams{
		ChatID:   chat.ID,
		SenderID: "alice",
		Text:     "   ",
	})
	require.ErrorIs(t, err, apperrors.ErrEmptyMessage)
}

func TestSendMessageAcceptsMediaOnly(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{
		ChatID:   chat.ID,
		SenderID: "alice",
		MediaURL: "https://cdn.example.com/photo.png",
	})
	require.NoError(t, err)
	require.Empty(t, msg.Text)
	require.Equal(t, models.MessageStatusSent, msg.Status)
	require.JSONEq(t, "[]", string(msg.ReadBy))
	require.JSONEq(t, "{}", string(msg.Reactions))
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	_, err := messages.Send(context.Background(), SendMessageParams{
		ChatID:   chat.ID,
		SenderID: "mallory",
		Text:     "hello",
	})
	require.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestMessageIDsSortChronologically(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	messages.timeNow = func() time.Time { return base }
	first, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "one"})
	require.NoError(t, err)

	messages.timeNow = func() time.Time { return base.Add(time.Second) }
	second, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "two"})
	require.NoError(t, err)

	require.Less(t, first.ID, second.ID)
}

func TestEditMessageOwnerOnly(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "original"})
	require.NoError(t, err)

	_, err = messages.Edit(context.Background(), chat.ID, msg.ID, "bob", "hacked")
	require.ErrorIs(t, err, apperrors.ErrNotMessageOwner)

	unchanged, err := messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, "original", unchanged.Text)
	require.False(t, unchanged.Edited)

	edited, err := messages.Edit(context.Background(), chat.ID, msg.ID, "alice", "updated")
	require.NoError(t, err)
	require.Equal(t, "updated", edited.Text)
	require.True(t, edited.Edited)
	require.NotNil(t, edited.EditedAt)
}

func TestDeleteMessageTombstones(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "secret"})
	require.NoError(t, err)

	require.ErrorIs(t, messages.Delete(context.Background(), chat.ID, msg.ID, "bob"), apperrors.ErrNotMessageOwner)
	require.NoError(t, messages.Delete(context.Background(), chat.ID, msg.ID, "alice"))
	// Repeat delete is a quiet no-op.
	require.NoError(t, messages.Delete(context.Background(), chat.ID, msg.ID, "alice"))

	stored, err := messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	require.True(t, stored.Deleted)
	require.NotNil(t, stored.DeletedAt)

	// A tombstoned message refuses edits.
	_, err = messages.Edit(context.Background(), chat.ID, msg.ID, "alice", "resurrect")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReactLastWriteWinsPerUser(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "react to me"})
	require.NoError(t, err)

	_, err = messages.React(context.Background(), chat.ID, msg.ID, "bob", "👍")
	require.NoError(t, err)
	_, err = messages.React(context.Background(), chat.ID, msg.ID, "alice", "🎉")
	require.NoError(t, err)
	updated, err := messages.React(context.Background(), chat.ID, msg.ID, "bob", "❤️")
	require.NoError(t, err)

	var reactions map[string]string
	require.NoError(t, json.Unmarshal(updated.Reactions, &reactions))
	require.Equal(t, map[string]string{"alice": "🎉", "bob": "❤️"}, reactions)
}

func TestReactRequiresParticipant(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "hi"})
	require.NoError(t, err)

	_, err = messages.React(context.Background(), chat.ID, msg.ID, "mallory", "👀")
	require.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestStatusAdvancesMonotonically(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "ping"})
	require.NoError(t, err)

	require.NoError(t, messages.MarkRead(context.Background(), chat.ID, msg.ID, "bob"))

	stored, err := messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusRead, stored.Status)

	// A late delivered receipt must not roll the status back.
	require.NoError(t, messages.MarkDelivered(context.Background(), chat.ID, msg.ID, "bob"))

	stored, err = messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusRead, stored.Status)
}

func TestSenderCannotAdvanceOwnMessage(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "ping"})
	require.NoError(t, err)

	require.NoError(t, messages.MarkRead(context.Background(), chat.ID, msg.ID, "alice"))

	stored, err := messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusSent, stored.Status)
	require.JSONEq(t, "[]", string(stored.ReadBy))
}

func TestReceiptsRequireParticipant(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "ping"})
	require.NoError(t, err)

	err = messages.MarkDelivered(context.Background(), chat.ID, msg.ID, "mallory")
	require.ErrorIs(t, err, apperrors.ErrNotParticipant)
	err = messages.MarkRead(context.Background(), chat.ID, msg.ID, "mallory")
	require.ErrorIs(t, err, apperrors.ErrNotParticipant)

	stored, err := messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusSent, stored.Status)
	require.JSONEq(t, "[]", string(stored.ReadBy))
}

func TestReadByHoldsEachReaderOnce(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	msg, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "ping"})
	require.NoError(t, err)

	require.NoError(t, messages.MarkRead(context.Background(), chat.ID, msg.ID, "bob"))
	require.NoError(t, messages.MarkRead(context.Background(), chat.ID, msg.ID, "bob"))

	stored, err := messages.Get(context.Background(), chat.ID, msg.ID)
	require.NoError(t, err)

	var readers []string
	require.NoError(t, json.Unmarshal(stored.ReadBy, &readers))
	require.Equal(t, []string{"bob"}, readers)
}

func TestHistoryReturnsChronologicalPage(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * time.Minute
		messages.timeNow = func() time.Time { return base.Add(offset) }
		_, err := messages.Send(context.Background(), SendMessageParams{ChatID: chat.ID, SenderID: "alice", Text: "msg"})
		require.NoError(t, err)
	}

	page, err := messages.History(context.Background(), chat.ID, 3, time.Time{})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, page[0].CreatedAt.Before(page[1].CreatedAt))
	require.True(t, page[1].CreatedAt.Before(page[2].CreatedAt))
	// Newest window: the page ends at the latest message.
	require.Equal(t, base.Add(4*time.Minute), page[2].CreatedAt.UTC())
}

func TestStatusUpdateForMissingMessage(t *testing.T) {
	_, _, messages, chat := newMessageFixture(t)

	err := messages.MarkDelivered(context.Background(), chat.ID, "missing", "bob")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
