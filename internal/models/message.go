package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message statuses, ordered sent < delivered < read.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Message is a durable chat message. Deleting a message tombstones it; the
// row is never physically removed.
type Message struct {
	ID        string    `gorm:"primaryKey;size:191" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ChatID   string `gorm:"size:191;index;not null" json:"chat_id"`
	SenderID string `gorm:"size:191;index;not null" json:"sender_id"`

	Text      string `gorm:"type:text" json:"text"`
	MediaURL  string `gorm:"type:text" json:"media_url,omitempty"`
	GifURL    string `gorm:"type:text" json:"gif_url,omitempty"`
	ReplyToID string `gorm:"index" json:"reply_to,omitempty"`

	Status    string         `gorm:"type:varchar(16);not null;default:'sent'" json:"status"`
	ReadBy    datatypes.JSON `json:"read_by"`
	Reactions datatypes.JSON `json:"reactions"`

	Edited   bool       `gorm:"default:false" json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	Deleted   bool       `gorm:"default:false;index" json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// MessageStatusRank maps a status onto the monotonic transition order.
// Unknown statuses rank below "sent" so they can never win a compare-and-set.
func MessageStatusRank(status string) int {
	switch status {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}
