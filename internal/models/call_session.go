package models

import (
	"time"

	"gorm.io/datatypes"
)

// Call session statuses.
const (
	CallStatusInitiated = "initiated"
	CallStatusRinging   = "ringing"
	CallStatusConnected = "connected"
	CallStatusCompleted = "completed"
	CallStatusMissed    = "missed"
	CallStatusDeclined  = "declined"
)

// Call types.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// CallSession is the canonical record of one call's signaling lifecycle.
// Media transport is external; only metadata state lives here.
type CallSession struct {
	BaseModel

	ChatID      string `gorm:"size:191;index;not null" json:"chat_id"`
	InitiatorID string `gorm:"size:191;index;not null" json:"initiator_id"`
	RecipientID string `gorm:"size:191;index;not null" json:"recipient_id"`

	InitiatorName string `gorm:"type:varchar(255)" json:"initiator_name,omitempty"`
	RecipientName string `gorm:"type:varchar(255)" json:"recipient_name,omitempty"`

	CallType string `gorm:"type:varchar(16);not null;default:'audio'" json:"call_type"`
	Status   string `gorm:"type:varchar(16);not null;index" json:"status"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `gorm:"default:0" json:"duration_seconds"`

	Recording datatypes.JSON `json:"recording,omitempty"`
}

// IsTerminal reports whether the status is final. Terminal writes are
// applied once; racing retries must observe a no-op.
func (c *CallSession) IsTerminal() bool {
	switch c.Status {
	case CallStatusCompleted, CallStatusMissed, CallStatusDeclined:
		return true
	default:
		return false
	}
}

// CallTerminalStatuses lists the final call states.
func CallTerminalStatuses() []string {
	return []string{CallStatusCompleted, CallStatusMissed, CallStatusDeclined}
}
