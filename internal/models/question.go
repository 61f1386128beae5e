package models

import "strings"

type Question struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	ActivityID    uint     `gorm:"not null;index" json:"activity_id"`
	Text          string   `gorm:"type:text;not null" json:"text"`
	CorrectAnswer string   `gorm:"size:1;not null" json:"-"`
	ImageURL      string   `gorm:"size:500" json:"image_url,omitempty"`
	OrderNum      int      `gorm:"not null" json:"order_num"`
	Options       []Option `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"options,omitempty"`
}

// OptionKeys returns the upper-cased keys students may answer with.
// Questions without option rows accept the default A-D set.
func (q *Question) OptionKeys() []string {
	if len(q.Options) == 0 {
		return DefaultOptionKeys
	}
	keys := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		keys = append(keys, strings.ToUpper(o.Key))
	}
	return keys
}

func (q *Question) HasOption(key string) bool {
	for _, k := range q.OptionKeys() {
		if k == key {
			return true
		}
	}
	return false
}

var DefaultOptionKeys = []string{"A", "B", "C", "D"}

const MaxOptions = 4
