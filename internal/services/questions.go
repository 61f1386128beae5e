package services

import (
	"context"
	"time"

	"classengage-backend/internal/cache"
	"classengage-backend/internal/models"

	"gorm.io/gorm"
)

// QuestionCache serves question rows to the live path. Questions are immutable
// once a session references them, so a long TTL is safe.
type QuestionCache struct {
	db    *gorm.DB
	cache *cache.Cache[uint, *models.Question]
}

func NewQuestionCache(db *gorm.DB, ttl time.Duration) *QuestionCache {
	return &QuestionCache{db: db, cache: cache.New[uint, *models.Question](ttl)}
}

func (q *QuestionCache) Get(ctx context.Context, id uint) (*models.Question, error) {
	return q.cache.GetOrLoad(id, func() (*models.Question, error) {
		var question models.Question
		err := q.db.WithContext(ctx).
			Preload("Options", func(db *gorm.DB) *gorm.DB {
				return db.Order("option_key ASC")
			}).
			First(&question, id).Error
		if err != nil {
			return nil, notFound(err, "question", id)
		}
		return &question, nil
	})
}

func (q *QuestionCache) Forget(id uint) {
	q.cache.Invalidate(id)
}

func (q *QuestionCache) PurgeExpired() {
	q.cache.Purge()
}
