package models

import "time"

type Response struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	SessionID              uint       `gorm:"not null;uniqueIndex:idx_response_unique;index:idx_response_question" json:"session_id"`
	QuestionID             uint       `gorm:"not null;uniqueIndex:idx_response_unique;index:idx_response_question" json:"question_id"`
	UserID                 uint       `gorm:"not null;uniqueIndex:idx_response_unique" json:"user_id"`
	AnswerKey              string     `gorm:"size:1;not null" json:"answer_key"`
	IsCorrect              bool       `gorm:"not null" json:"is_correct"`
	IsLate                 bool       `gorm:"not null;default:false" json:"is_late"`
	ResponseLatencySeconds float64    `gorm:"not null;default:0" json:"response_latency_seconds"`
	Source                 string     `gorm:"size:10;not null;default:'web'" json:"source"`
	DeviceID               string     `gorm:"size:64" json:"device_id,omitempty"`
	ClientSubmittedAt      *time.Time `json:"client_submitted_at,omitempty"`
	ServerReceivedAt       time.Time  `gorm:"not null" json:"server_received_at"`
}

const (
	ResponseSourceWeb     = "web"
	ResponseSourceClicker = "clicker"
)
