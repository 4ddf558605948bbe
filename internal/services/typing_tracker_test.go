package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingStartStop(t *testing.T) {
	tracker := NewTypingTracker(nil)

	tracker.Start("chat-1", "alice")
	tracker.Start("chat-1", "bob")
	require.Equal(t, []string{"alice", "bob"}, tracker.ActiveUsers("chat-1"))

	tracker.Stop("chat-1", "alice")
	require.Equal(t, []string{"bob"}, tracker.ActiveUsers("chat-1"))

	tracker.Stop("chat-1", "bob")
	require.Empty(t, tracker.ActiveUsers("chat-1"))
}

func TestTypingStopWithoutStartLeavesNothing(t *testing.T) {
	tracker := NewTypingTracker(nil)

	tracker.Stop("chat-1", "alice")
	require.Empty(t, tracker.ActiveUsers("chat-1"))
	require.Empty(t, tracker.entries)
}

func TestTypingRepeatedStartRefreshesTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTypingTracker(nil,
		WithTypingTTL(10*time.Second),
		WithTypingClock(func() time.Time { return now }),
	)

	tracker.Start("chat-1", "alice")
	now = now.Add(8 * time.Second)
	tracker.Start("chat-1", "alice")

	now = now.Add(8 * time.Second)
	require.Equal(t, []string{"alice"}, tracker.ActiveUsers("chat-1"))
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTypingTracker(nil,
		WithTypingTTL(5*time.Second),
		WithTypingClock(func() time.Time { return now }),
	)

	tracker.Start("chat-1", "alice")
	now = now.Add(6 * time.Second)
	require.Empty(t, tracker.ActiveUsers("chat-1"))
	require.Empty(t, tracker.entries)
}

func TestTypingChatsAreIndependent(t *testing.T) {
	tracker := NewTypingTracker(nil)

	tracker.Start("chat-1", "alice")
	tracker.Start("chat-2", "alice")
	tracker.Stop("chat-1", "alice")

	require.Empty(t, tracker.ActiveUsers("chat-1"))
	require.Equal(t, []string{"alice"}, tracker.ActiveUsers("chat-2"))
}
