package models

import "time"

type Session struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	ActivityID              uint       `gorm:"not null;index" json:"activity_id"`
	Name                    string     `gorm:"size:255;not null" json:"name"`
	QuestionIDs             []uint     `gorm:"serializer:json;type:text;not null" json:"question_ids"`
	CurrentQuestionIndex    int        `gorm:"not null;default:0" json:"current_question_index"`
	Status                  string     `gorm:"size:20;not null;default:'ready';index" json:"status"`
	TimeLimitSeconds        int        `gorm:"not null" json:"time_limit_seconds"`
	QuestionStartedAt       *time.Time `json:"question_started_at,omitempty"`
	PausedAt                *time.Time `json:"paused_at,omitempty"`
	TimerRemaining          int        `gorm:"not null;default:0" json:"timer_remaining"`
	AccumulatedPauseSeconds int        `gorm:"not null;default:0" json:"accumulated_pause_seconds"`
	ShuffleAnswers          bool       `gorm:"not null;default:false" json:"shuffle_answers"`
	Version                 int        `gorm:"not null;default:0" json:"-"`
	TimeCompletedAt         *time.Time `json:"time_completed_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
}

const (
	SessionStatusReady     = "ready"
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusCompleted = "completed"
)

func (s *Session) TotalQuestions() int {
	return len(s.QuestionIDs)
}

// CurrentQuestionID is zero when the cursor is out of range.
func (s *Session) CurrentQuestionID() uint {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionIDs) {
		return 0
	}
	return s.QuestionIDs[s.CurrentQuestionIndex]
}

func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted
}
