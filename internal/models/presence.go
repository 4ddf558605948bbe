package models

import "time"

// Presence records a user's last known connectivity. One row per user,
// overwritten on every connect/disconnect/heartbeat; last writer wins.
type Presence struct {
	UserID    string    `gorm:"primaryKey;size:191" json:"user_id"`
	IsOnline  bool      `gorm:"not null;default:false" json:"is_online"`
	LastSeen  time.Time `gorm:"index" json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}
