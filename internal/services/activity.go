package services

import (
	"context"
	"fmt"
	"strings"

	"classengage-backend/internal/models"

	"gorm.io/gorm"
)

// ActivityService manages the question banks sessions are created from.
type ActivityService struct {
	db        *gorm.DB
	questions *QuestionCache
}

func NewActivityService(db *gorm.DB, questions *QuestionCache) *ActivityService {
	return &ActivityService{db: db, questions: questions}
}

type OptionInput struct {
	Key  string `json:"key" binding:"required,len=1"`
	Text string `json:"text" binding:"required,max=500"`
}

type QuestionInput struct {
	Text          string        `json:"text" binding:"required"`
	Options       []OptionInput `json:"options" binding:"required,min=2,max=4,dive"`
	CorrectAnswer string        `json:"correct_answer" binding:"required,len=1"`
	ImageURL      string        `json:"image_url" binding:"omitempty,max=500"`
}

func (s *ActivityService) CreateActivity(ctx context.Context, name string, timeLimitSeconds int) (*models.Activity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if timeLimitSeconds <= 0 {
		return nil, fmt.Errorf("%w: time limit must be positive", ErrInvalidInput)
	}

	activity := models.Activity{Name: name, TimeLimitSeconds: timeLimitSeconds}
	if err := s.db.WithContext(ctx).Create(&activity).Error; err != nil {
		return nil, err
	}
	return &activity, nil
}

func (s *ActivityService) GetActivity(ctx context.Context, activityID uint) (*models.Activity, error) {
	var activity models.Activity
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_num ASC, id ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("option_key ASC")
		}).
		First(&activity, activityID).Error
	if err != nil {
		return nil, notFound(err, "activity", activityID)
	}
	return &activity, nil
}

func (s *ActivityService) ListActivities(ctx context.Context) ([]models.Activity, error) {
	var activities []models.Activity
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}

// AddQuestion appends a question at the end of the activity's order.
func (s *ActivityService) AddQuestion(ctx context.Context, activityID uint, in QuestionInput) (*models.Question, error) {
	question, err := buildQuestion(in)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activity models.Activity
		if err := tx.First(&activity, activityID).Error; err != nil {
			return notFound(err, "activity", activityID)
		}

		var maxOrder int
		err := tx.Model(&models.Question{}).
			Where("activity_id = ?", activityID).
			Select("COALESCE(MAX(order_num), 0)").
			Scan(&maxOrder).Error
		if err != nil {
			return fmt.Errorf("next question order: %w", err)
		}

		question.ActivityID = activityID
		question.OrderNum = maxOrder + 1
		return tx.Create(question).Error
	})
	if err != nil {
		return nil, err
	}
	return question, nil
}

// DeleteQuestion is refused while any non-completed session still references
// the question.
func (s *ActivityService) DeleteQuestion(ctx context.Context, questionID uint) error {
	var question models.Question
	if err := s.db.WithContext(ctx).First(&question, questionID).Error; err != nil {
		return notFound(err, "question", questionID)
	}

	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("activity_id = ? AND status <> ?", question.ActivityID, models.SessionStatusCompleted).
		Find(&sessions).Error; err != nil {
		return err
	}
	for _, sess := range sessions {
		for _, id := range sess.QuestionIDs {
			if id == questionID {
				return fmt.Errorf("%w: question %d is used by live session %d", ErrInvalidState, questionID, sess.ID)
			}
		}
	}

	if err := s.db.WithContext(ctx).Select("Options").Delete(&question).Error; err != nil {
		return err
	}
	s.questions.Forget(questionID)
	return nil
}

func buildQuestion(in QuestionInput) (*models.Question, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: question text is required", ErrInvalidInput)
	}
	if len(in.Options) < 2 || len(in.Options) > models.MaxOptions {
		return nil, fmt.Errorf("%w: a question needs 2 to %d options", ErrInvalidInput, models.MaxOptions)
	}

	q := &models.Question{Text: text, ImageURL: strings.TrimSpace(in.ImageURL)}
	seen := make(map[string]bool, len(in.Options))
	for _, o := range in.Options {
		key := NormalizeAnswer(o.Key)
		if !isDefaultKey(key) {
			return nil, fmt.Errorf("%w: option key %q must be one of A-D", ErrInvalidInput, o.Key)
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate option key %q", ErrInvalidInput, key)
		}
		seen[key] = true
		q.Options = append(q.Options, models.Option{Key: key, Text: strings.TrimSpace(o.Text)})
	}

	correct := NormalizeAnswer(in.CorrectAnswer)
	if !seen[correct] {
		return nil, fmt.Errorf("%w: correct answer %q is not one of the options", ErrInvalidInput, in.CorrectAnswer)
	}
	q.CorrectAnswer = correct
	return q, nil
}

func isDefaultKey(key string) bool {
	for _, k := range models.DefaultOptionKeys {
		if k == key {
			return true
		}
	}
	return false
}
