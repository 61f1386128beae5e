package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"classengage-backend/internal/cache"
	"classengage-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type questionKey struct {
	SessionID  uint
	QuestionID uint
}

type QuestionStats struct {
	SessionID     uint           `json:"session_id"`
	QuestionID    uint           `json:"question_id"`
	QuestionIndex int            `json:"question_index"`
	Distribution  map[string]int `json:"distribution"`
	Total         int            `json:"total"`
	CorrectAnswer string         `json:"correct_answer"`
}

type SessionSummary struct {
	SessionID          uint    `json:"session_id"`
	Status             string  `json:"status"`
	QuestionsPresented int     `json:"questions_presented"`
	TotalParticipants  int     `json:"total_participants"`
	TotalResponses     int     `json:"total_responses"`
	AvgScore           float64 `json:"avg_score"`
	CompletionRate     float64 `json:"completion_rate"`
	ConnectionStats
}

type StatsService struct {
	db        *gorm.DB
	questions *QuestionCache
	registry  *ConnectionRegistry
	scoring   *ScoringService

	perQuestion *cache.Cache[questionKey, QuestionStats]
	summaries   *cache.Cache[uint, SessionSummary]
}

func NewStatsService(db *gorm.DB, questions *QuestionCache, registry *ConnectionRegistry, scoring *ScoringService, questionTTL, summaryTTL time.Duration) *StatsService {
	return &StatsService{
		db:          db,
		questions:   questions,
		registry:    registry,
		scoring:     scoring,
		perQuestion: cache.New[questionKey, QuestionStats](questionTTL),
		summaries:   cache.New[uint, SessionSummary](summaryTTL),
	}
}

// GetCurrentQuestionStats is polled by every client; the response counts are
// served from cache and only the session row is read each time.
func (s *StatsService) GetCurrentQuestionStats(ctx context.Context, sessionID uint) (QuestionStats, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return QuestionStats{}, err
	}
	if sess.Status == models.SessionStatusReady {
		return QuestionStats{}, fmt.Errorf("%w: session %d has not started", ErrInvalidState, sessionID)
	}

	key := questionKey{SessionID: sessionID, QuestionID: sess.CurrentQuestionID()}
	stats, err := s.perQuestion.GetOrLoad(key, func() (QuestionStats, error) {
		return s.computeQuestionStats(ctx, key)
	})
	if err != nil {
		return QuestionStats{}, err
	}
	stats.QuestionIndex = sess.CurrentQuestionIndex
	return stats, nil
}

func (s *StatsService) computeQuestionStats(ctx context.Context, key questionKey) (QuestionStats, error) {
	question, err := s.questions.Get(ctx, key.QuestionID)
	if err != nil {
		return QuestionStats{}, err
	}

	var rows []struct {
		AnswerKey string
		Count     int
	}
	err = readRetry.do(ctx, func() error {
		rows = rows[:0]
		return s.db.WithContext(ctx).Model(&models.Response{}).
			Select("answer_key, COUNT(*) AS count").
			Where("session_id = ? AND question_id = ?", key.SessionID, key.QuestionID).
			Group("answer_key").
			Scan(&rows).Error
	})
	if err != nil {
		return QuestionStats{}, fmt.Errorf("question stats: %w", err)
	}

	stats := QuestionStats{
		SessionID:     key.SessionID,
		QuestionID:    key.QuestionID,
		Distribution:  make(map[string]int),
		CorrectAnswer: question.CorrectAnswer,
	}
	for _, k := range question.OptionKeys() {
		stats.Distribution[k] = 0
	}
	for _, r := range rows {
		stats.Distribution[r.AnswerKey] += r.Count
		stats.Total += r.Count
	}
	return stats, nil
}

// GetSessionSummary combines cached response aggregates with live connection
// counts. The connection part is never cached so staleness shows on the next read.
func (s *StatsService) GetSessionSummary(ctx context.Context, sessionID uint) (SessionSummary, error) {
	summary, err := s.summaries.GetOrLoad(sessionID, func() (SessionSummary, error) {
		return s.computeSummary(ctx, sessionID)
	})
	if err != nil {
		return SessionSummary{}, err
	}

	conns, err := s.registry.GetStatistics(ctx, sessionID)
	if err != nil {
		log.Printf("stats: connection statistics for session %d: %v", sessionID, err)
	}
	summary.ConnectionStats = conns
	return summary, nil
}

func (s *StatsService) computeSummary(ctx context.Context, sessionID uint) (SessionSummary, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return SessionSummary{}, err
	}
	presented := questionsPresented(sess)

	rows, err := s.tallyRows(ctx, sessionID)
	if err != nil {
		return SessionSummary{}, err
	}
	tallies := s.scoring.Tally(rows, presented)

	total := 0
	for _, r := range rows {
		total += r.Answered
	}

	summary := SessionSummary{
		SessionID:          sessionID,
		Status:             sess.Status,
		QuestionsPresented: presented,
		TotalParticipants:  len(rows),
		TotalResponses:     total,
		AvgScore:           s.scoring.Average(tallies),
	}
	if len(rows) > 0 && presented > 0 {
		summary.CompletionRate = percent(total, len(rows)*presented)
	}
	return summary, nil
}

// FinalTallies produces the per-user correctness counts handed to grade sync.
func (s *StatsService) FinalTallies(ctx context.Context, sessionID uint) ([]GradeTally, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.tallyRows(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.scoring.Tally(rows, questionsPresented(sess)), nil
}

// WriteSnapshot stores the final statistics of a completed session.
func (s *StatsService) WriteSnapshot(ctx context.Context, sessionID uint) (*models.SessionSnapshot, error) {
	s.InvalidateSession(sessionID)
	summary, err := s.computeSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	snap := models.SessionSnapshot{
		SessionID:         sessionID,
		TotalParticipants: summary.TotalParticipants,
		TotalResponses:    summary.TotalResponses,
		AvgScore:          summary.AvgScore,
		CompletionRate:    summary.CompletionRate,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_participants", "total_responses", "avg_score", "completion_rate"}),
	}).Create(&snap).Error
	if err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	return &snap, nil
}

func (s *StatsService) GetSnapshot(ctx context.Context, sessionID uint) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&snap).Error; err != nil {
		return nil, notFound(err, "snapshot for session", sessionID)
	}
	return &snap, nil
}

// Invalidate drops the cached stats touched by a new response.
func (s *StatsService) Invalidate(sessionID, questionID uint) {
	s.perQuestion.Invalidate(questionKey{SessionID: sessionID, QuestionID: questionID})
	s.summaries.Invalidate(sessionID)
}

// PurgeExpired drops expired entries left behind by sessions nobody reads
// any more.
func (s *StatsService) PurgeExpired() {
	s.perQuestion.Purge()
	s.summaries.Purge()
}

// InvalidateSession drops every cached entry of a session.
func (s *StatsService) InvalidateSession(sessionID uint) {
	s.perQuestion.InvalidateWhere(func(k questionKey) bool { return k.SessionID == sessionID })
	s.summaries.Invalidate(sessionID)
}

func (s *StatsService) tallyRows(ctx context.Context, sessionID uint) ([]tallyRow, error) {
	var rows []tallyRow
	err := readRetry.do(ctx, func() error {
		rows = rows[:0]
		return s.db.WithContext(ctx).Model(&models.Response{}).
			Select(`user_id,
				COUNT(*) AS answered,
				SUM(CASE WHEN is_correct THEN 1 ELSE 0 END) AS correct,
				SUM(CASE WHEN is_late THEN 1 ELSE 0 END) AS late`).
			Where("session_id = ?", sessionID).
			Group("user_id").
			Order("user_id ASC").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("tally responses: %w", err)
	}
	return rows, nil
}

func (s *StatsService) loadSession(ctx context.Context, sessionID uint) (*models.Session, error) {
	var sess models.Session
	err := readRetry.do(ctx, func() error {
		return s.db.WithContext(ctx).First(&sess, sessionID).Error
	})
	if err != nil {
		return nil, notFound(err, "session", sessionID)
	}
	return &sess, nil
}

func questionsPresented(sess *models.Session) int {
	if sess.Status == models.SessionStatusReady || sess.QuestionStartedAt == nil {
		return 0
	}
	return sess.CurrentQuestionIndex + 1
}
