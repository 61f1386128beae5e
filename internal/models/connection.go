package models

import "time"

type Connection struct {
	ID                         uint      `gorm:"primaryKey" json:"-"`
	ConnectionID               string    `gorm:"size:36;uniqueIndex;not null" json:"connection_id"`
	SessionID                  uint      `gorm:"not null;index:idx_connection_session_user" json:"session_id"`
	UserID                     uint      `gorm:"not null;index:idx_connection_session_user" json:"user_id"`
	Transport                  string    `gorm:"size:10;not null" json:"transport"`
	Status                     string    `gorm:"size:20;not null;default:'connected'" json:"status"`
	Superseded                 bool      `gorm:"not null;default:false" json:"superseded"`
	HasAnsweredCurrentQuestion bool      `gorm:"not null;default:false" json:"has_answered_current_question"`
	LastActivityAt             time.Time `gorm:"index" json:"last_activity_at"`
	CreatedAt                  time.Time `json:"created_at"`
}

const (
	TransportPush = "push"
	TransportPoll = "poll"

	ConnectionStatusConnected    = "connected"
	ConnectionStatusStale        = "stale"
	ConnectionStatusDisconnected = "disconnected"
)
