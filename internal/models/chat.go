package models

import (
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// Chat kinds.
const (
	ChatKindDirect = "direct"
	ChatKindGroup  = "group"
)

// Chat is the system of record for a conversation and its participants.
// Live room subscriptions are transient and tracked by the realtime hub;
// this row only answers "who belongs to this conversation".
type Chat struct {
	BaseModel

	Kind           string         `gorm:"type:varchar(16);not null;default:'direct'" json:"kind"`
	Name           string         `gorm:"type:varchar(255)" json:"name,omitempty"`
	ParticipantIDs datatypes.JSON `json:"participant_ids"`
}

// DirectChatID derives the deterministic identifier for a 1:1 chat from the
// sorted pair of participant ids. Both orderings of the pair yield the same id.
func DirectChatID(a, b string) string {
	pair := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}
