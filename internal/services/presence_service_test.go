package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/database/testutil"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

func TestPresenceOnlineOffline(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewPresenceService(db)
	require.NoError(t, err)

	require.NoError(t, svc.MarkOnline(context.Background(), "alice"))

	record, err := svc.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, record.IsOnline)
	require.False(t, record.LastSeen.IsZero())

	require.NoError(t, svc.MarkOffline(context.Background(), "alice"))
	// Disconnect handling may fire twice for the same socket.
	require.NoError(t, svc.MarkOffline(context.Background(), "alice"))

	record, err = svc.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, record.IsOnline)
}

func TestPresenceLastWriteWins(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewPresenceService(db)
	require.NoError(t, err)

	require.NoError(t, svc.MarkOffline(context.Background(), "alice"))
	require.NoError(t, svc.Heartbeat(context.Background(), "alice"))

	record, err := svc.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, record.IsOnline)
}

func TestPresenceSweepStale(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewPresenceService(db)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return base }

	require.NoError(t, svc.MarkOnline(context.Background(), "stale"))

	svc.timeNow = func() time.Time { return base.Add(5 * time.Minute) }
	require.NoError(t, svc.MarkOnline(context.Background(), "fresh"))

	changed, err := svc.SweepStale(context.Background(), time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, changed)

	record, err := svc.Get(context.Background(), "stale")
	require.NoError(t, err)
	require.False(t, record.IsOnline)

	record, err = svc.Get(context.Background(), "fresh")
	require.NoError(t, err)
	require.True(t, record.IsOnline)
}

func TestPresenceListOnline(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewPresenceService(db)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return base }
	require.NoError(t, svc.MarkOnline(context.Background(), "alice"))

	svc.timeNow = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, svc.MarkOnline(context.Background(), "bob"))
	require.NoError(t, svc.MarkOffline(context.Background(), "carol"))

	records, err := svc.ListOnline(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "bob", records[0].UserID)
	require.Equal(t, "alice", records[1].UserID)
}

func TestPresenceGetUnknownUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewPresenceService(db)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
