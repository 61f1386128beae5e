package models

import "time"

// SessionSnapshot is the final statistics record written when a session completes.
type SessionSnapshot struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	SessionID         uint      `gorm:"not null;uniqueIndex" json:"session_id"`
	TotalParticipants int       `gorm:"not null" json:"total_participants"`
	TotalResponses    int       `gorm:"not null" json:"total_responses"`
	AvgScore          float64   `gorm:"not null" json:"avg_score"`
	CompletionRate    float64   `gorm:"not null" json:"completion_rate"`
	CreatedAt         time.Time `json:"created_at"`
}
