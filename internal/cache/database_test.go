package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/database/testutil"
)

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	count, ttl, err := store.IncrementWithTTL(context.Background(), "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.IncrementWithTTL(context.Background(), "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	require.NoError(t, store.Set(context.Background(), "key", []byte("value"), time.Minute))

	value, found, err := store.Get(context.Background(), "key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value"), value)

	require.NoError(t, store.Delete(context.Background(), "key"))

	_, found, err = store.Get(context.Background(), "key")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreGetExpiredEntry(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	require.NoError(t, store.Set(context.Background(), "short", []byte("gone"), -time.Second))

	_, found, err := store.Get(context.Background(), "short")
	require.NoError(t, err)
	require.False(t, found)
}
