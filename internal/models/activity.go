package models

import "time"

type Activity struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"size:255;not null" json:"name"`
	TimeLimitSeconds int        `gorm:"not null;default:30" json:"time_limit_seconds"`
	Questions        []Question `gorm:"foreignKey:ActivityID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
