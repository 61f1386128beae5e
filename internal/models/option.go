package models

type Option struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID uint   `gorm:"not null;index" json:"question_id"`
	Key        string `gorm:"column:option_key;size:1;not null" json:"key"`
	Text       string `gorm:"size:500;not null" json:"text"`
}
