package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectChatIDOrderIndependent(t *testing.T) {
	require.Equal(t, "alice_bob", DirectChatID("alice", "bob"))
	require.Equal(t, "alice_bob", DirectChatID("bob", "alice"))
	require.Equal(t, "alice_bob", DirectChatID(" bob ", "alice"))
}

func TestMessageStatusRankOrdering(t *testing.T) {
	require.Less(t, MessageStatusRank(MessageStatusSent), MessageStatusRank(MessageStatusDelivered))
	require.Less(t, MessageStatusRank(MessageStatusDelivered), MessageStatusRank(MessageStatusRead))
	require.Zero(t, MessageStatusRank("bogus"))
}

func TestCallSessionIsTerminal(t *testing.T) {
	for _, status := range CallTerminalStatuses() {
		call := CallSession{Status: status}
		require.True(t, call.IsTerminal(), status)
	}
	for _, status := range []string{CallStatusInitiated, CallStatusRinging, CallStatusConnected} {
		call := CallSession{Status: status}
		require.False(t, call.IsTerminal(), status)
	}
}
