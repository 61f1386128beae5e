package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"classengage-backend/internal/models"
	"classengage-backend/internal/timer"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResponseService struct {
	db        *gorm.DB
	questions *QuestionCache
	stats     *StatsService
	registry  *ConnectionRegistry
	devices   *ClickerService
	now       timer.Clock
}

func NewResponseService(db *gorm.DB, questions *QuestionCache, stats *StatsService, registry *ConnectionRegistry, devices *ClickerService, now timer.Clock) *ResponseService {
	if now == nil {
		now = time.Now
	}
	return &ResponseService{
		db:        db,
		questions: questions,
		stats:     stats,
		registry:  registry,
		devices:   devices,
		now:       now,
	}
}

type SubmitResult struct {
	Success         bool    `json:"success"`
	AlreadyRecorded bool    `json:"already_recorded,omitempty"`
	ResponseID      uint    `json:"response_id"`
	QuestionID      uint    `json:"question_id"`
	IsCorrect       bool    `json:"is_correct"`
	CorrectAnswer   string  `json:"correct_answer"`
	IsLate          bool    `json:"is_late"`
	LatencySeconds  float64 `json:"latency_seconds"`
}

type BatchItem struct {
	UserID          uint       `json:"user_id,omitempty"`
	DeviceID        string     `json:"device_id,omitempty"`
	AnswerKey       string     `json:"answer"`
	ClientTimestamp *time.Time `json:"client_timestamp,omitempty"`
}

const (
	BatchStatusRecorded        = "recorded"
	BatchStatusAlreadyRecorded = "already_recorded"
	BatchStatusFailed          = "failed"
)

type BatchItemResult struct {
	Index      int    `json:"index"`
	UserID     uint   `json:"user_id,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	Status     string `json:"status"`
	ResponseID uint   `json:"response_id,omitempty"`
	IsCorrect  bool   `json:"is_correct"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

type BatchResult struct {
	ProcessedCount int               `json:"processed_count"`
	DuplicateCount int               `json:"duplicate_count"`
	FailedCount    int               `json:"failed_count"`
	Results        []BatchItemResult `json:"results"`
}

type submission struct {
	sessionID uint
	userID    uint
	answerKey string
	clientTS  *time.Time
	source    string
	deviceID  string
}

// SubmitSingle records one answer for the session's current question.
// A repeat for the same (session, question, user) returns ErrDuplicateSubmission
// together with the already-recorded result.
func (s *ResponseService) SubmitSingle(ctx context.Context, sessionID, userID uint, answerKey string, clientTimestamp *time.Time) (*SubmitResult, error) {
	return s.submit(ctx, submission{
		sessionID: sessionID,
		userID:    userID,
		answerKey: answerKey,
		clientTS:  clientTimestamp,
		source:    models.ResponseSourceWeb,
	})
}

// SubmitBatch runs every item through the same pipeline independently. One
// bad item never affects the others.
func (s *ResponseService) SubmitBatch(ctx context.Context, sessionID uint, items []BatchItem) *BatchResult {
	result := &BatchResult{Results: make([]BatchItemResult, 0, len(items))}

	for i, item := range items {
		out := BatchItemResult{Index: i, UserID: item.UserID, DeviceID: item.DeviceID}

		res, err := s.submitBatchItem(ctx, sessionID, item, &out)
		switch {
		case err == nil:
			out.Status = BatchStatusRecorded
			out.ResponseID = res.ResponseID
			out.IsCorrect = res.IsCorrect
			result.ProcessedCount++
		case errors.Is(err, ErrDuplicateSubmission):
			out.Status = BatchStatusAlreadyRecorded
			if res != nil {
				out.ResponseID = res.ResponseID
				out.IsCorrect = res.IsCorrect
			}
			result.DuplicateCount++
		default:
			out.Status = BatchStatusFailed
			out.ErrorCode = ErrorCode(err)
			out.Error = err.Error()
			result.FailedCount++
			if !isDomainError(err) {
				log.Printf("responses: batch item %d for session %d: %v", i, sessionID, err)
			}
		}
		result.Results = append(result.Results, out)
	}

	log.Printf("responses: batch for session %d: %d recorded, %d duplicate, %d failed",
		sessionID, result.ProcessedCount, result.DuplicateCount, result.FailedCount)
	return result
}

func (s *ResponseService) submitBatchItem(ctx context.Context, sessionID uint, item BatchItem, out *BatchItemResult) (*SubmitResult, error) {
	userID := item.UserID
	source := models.ResponseSourceWeb
	if item.DeviceID != "" {
		source = models.ResponseSourceClicker
		if userID == 0 {
			resolved, err := s.devices.Resolve(ctx, item.DeviceID)
			if err != nil {
				return nil, err
			}
			userID = resolved
			out.UserID = resolved
		}
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: item has neither user_id nor device_id", ErrInvalidInput)
	}

	return s.submit(ctx, submission{
		sessionID: sessionID,
		userID:    userID,
		answerKey: item.AnswerKey,
		clientTS:  item.ClientTimestamp,
		source:    source,
		deviceID:  normalizeDeviceID(item.DeviceID),
	})
}

func (s *ResponseService) submit(ctx context.Context, sub submission) (*SubmitResult, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, sub.sessionID).Error; err != nil {
		return nil, notFound(err, "session", sub.sessionID)
	}
	if sess.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("%w: session %d is %s", ErrSessionNotActive, sess.ID, sess.Status)
	}

	key := NormalizeAnswer(sub.answerKey)
	if len(key) != 1 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAnswer, sub.answerKey)
	}

	question, err := s.questions.Get(ctx, sess.CurrentQuestionID())
	if err != nil {
		return nil, err
	}
	if !question.HasOption(key) {
		return nil, fmt.Errorf("%w: %q is not an option of question %d", ErrInvalidAnswer, sub.answerKey, question.ID)
	}

	// lateness is judged on server receipt only; the client clock is kept for audit
	received := s.now()
	var latency float64
	if sess.QuestionStartedAt != nil {
		latency = timer.LatencySeconds(*sess.QuestionStartedAt, received)
	}
	correctKey := NormalizeAnswer(question.CorrectAnswer)

	resp := models.Response{
		SessionID:              sess.ID,
		QuestionID:             question.ID,
		UserID:                 sub.userID,
		AnswerKey:              key,
		IsCorrect:              key == correctKey,
		IsLate:                 timer.IsLate(latency, sess.TimeLimitSeconds),
		ResponseLatencySeconds: latency,
		Source:                 sub.source,
		DeviceID:               sub.deviceID,
		ClientSubmittedAt:      sub.clientTS,
		ServerReceivedAt:       received,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&resp)
	if res.Error != nil {
		return nil, fmt.Errorf("save response: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.existing(ctx, sess.ID, question.ID, sub.userID)
		if err != nil {
			log.Printf("responses: load duplicate for session=%d user=%d: %v", sess.ID, sub.userID, err)
			return nil, fmt.Errorf("%w: question %d", ErrDuplicateSubmission, question.ID)
		}
		return &SubmitResult{
			Success:         false,
			AlreadyRecorded: true,
			ResponseID:      existing.ID,
			QuestionID:      question.ID,
			IsCorrect:       existing.IsCorrect,
			CorrectAnswer:   correctKey,
			IsLate:          existing.IsLate,
			LatencySeconds:  existing.ResponseLatencySeconds,
		}, fmt.Errorf("%w: question %d", ErrDuplicateSubmission, question.ID)
	}

	s.stats.Invalidate(sess.ID, question.ID)
	s.registry.MarkAnswered(ctx, sess.ID, sub.userID, sess.CurrentQuestionIndex)

	return &SubmitResult{
		Success:        true,
		ResponseID:     resp.ID,
		QuestionID:     question.ID,
		IsCorrect:      resp.IsCorrect,
		CorrectAnswer:  correctKey,
		IsLate:         resp.IsLate,
		LatencySeconds: latency,
	}, nil
}

func (s *ResponseService) existing(ctx context.Context, sessionID, questionID, userID uint) (*models.Response, error) {
	var r models.Response
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND question_id = ? AND user_id = ?", sessionID, questionID, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountForQuestion counts the persisted answers for one question.
func (s *ResponseService) CountForQuestion(ctx context.Context, sessionID, questionID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Response{}).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		Count(&n).Error
	return n, err
}

// ListForSession returns every response of a session in arrival order.
func (s *ResponseService) ListForSession(ctx context.Context, sessionID uint) ([]models.Response, error) {
	var out []models.Response
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("server_received_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// NormalizeAnswer trims and upper-cases an answer key so "b", " B " and "B"
// compare equal.
func NormalizeAnswer(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
