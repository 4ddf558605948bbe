package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/services"
)

func TestSweeperRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	chats, err := services.NewChatService(db)
	require.NoError(t, err)

	presence, err := services.NewPresenceService(db)
	require.NoError(t, err)

	calls, err := services.NewCallService(db, chats, nil)
	require.NoError(t, err)

	chat, err := chats.EnsureDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	// Seed one stale presence row and one stale ringing call.
	stale := models.Presence{
		UserID:   "alice",
		IsOnline: true,
		LastSeen: time.Now().UTC().Add(-10 * time.Minute),
	}
	require.NoError(t, db.Create(&stale).Error)

	call := models.CallSession{
		ChatID:      chat.ID,
		InitiatorID: "alice",
		RecipientID: "bob",
		CallType:    models.CallTypeAudio,
		Status:      models.CallStatusRinging,
		StartedAt:   time.Now().UTC().Add(-10 * time.Minute),
	}
	require.NoError(t, db.Create(&call).Error)

	sweeper := NewSweeper(presence, calls,
		WithOfflineGrace(time.Minute),
		WithRingTimeout(45*time.Second),
	)

	require.NoError(t, sweeper.RunOnce(context.Background()))

	record, err := presence.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, record.IsOnline)

	settled, err := calls.Get(context.Background(), call.ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusMissed, settled.Status)
	require.NotNil(t, settled.EndedAt)
}

func TestSweeperSkipsNilDependencies(t *testing.T) {
	sweeper := NewSweeper(nil, nil)
	require.NoError(t, sweeper.RunOnce(context.Background()))
	require.NoError(t, sweeper.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(ctx))
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	presence, err := services.NewPresenceService(db)
	require.NoError(t, err)

	sweeper := NewSweeper(presence, nil, WithPresenceSchedule("not-a-spec"))
	require.Error(t, sweeper.Start())
}
