package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"strings"
	"time"

	"classengage-backend/internal/models"
	"classengage-backend/internal/timer"

	"gorm.io/gorm"
)

const maxTransitionAttempts = 3

// Notifier is told about every committed session transition.
type Notifier interface {
	SessionChanged(sess models.Session)
	SessionDeleted(sessionID uint)
}

type nopNotifier struct{}

func (nopNotifier) SessionChanged(models.Session) {}
func (nopNotifier) SessionDeleted(uint)           {}

type SessionService struct {
	db        *gorm.DB
	questions *QuestionCache
	registry  *ConnectionRegistry
	stats     *StatsService
	grades    GradeSyncer
	notifier  Notifier
	now       timer.Clock

	gradeTimeout time.Duration
}

func NewSessionService(
	db *gorm.DB,
	questions *QuestionCache,
	registry *ConnectionRegistry,
	stats *StatsService,
	grades GradeSyncer,
	notifier Notifier,
	now timer.Clock,
) *SessionService {
	if grades == nil {
		grades = LogGradeSyncer{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		db:           db,
		questions:    questions,
		registry:     registry,
		stats:        stats,
		grades:       grades,
		notifier:     notifier,
		now:          now,
		gradeTimeout: 30 * time.Second,
	}
}

type CurrentQuestion struct {
	SessionID        uint          `json:"session_id"`
	Status           string        `json:"status"`
	QuestionIndex    int           `json:"question_index"`
	TotalQuestions   int           `json:"total_questions"`
	TimeLimitSeconds int           `json:"time_limit_seconds"`
	TimeRemaining    int           `json:"time_remaining"`
	Question         *QuestionView `json:"question,omitempty"`
	shuffle          bool
}

type QuestionView struct {
	ID       uint         `json:"id"`
	Text     string       `json:"text"`
	ImageURL string       `json:"image_url,omitempty"`
	Options  []OptionView `json:"options"`
}

type OptionView struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// ForUser returns a copy with the option display order shuffled per user when
// the session asks for it. Keys are unchanged, so answers are unaffected.
func (c *CurrentQuestion) ForUser(userID uint) *CurrentQuestion {
	if !c.shuffle || c.Question == nil || userID == 0 {
		return c
	}
	out := *c
	q := *c.Question
	q.Options = append([]OptionView(nil), c.Question.Options...)

	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d:%d", c.SessionID, q.ID, userID)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(q.Options), func(i, j int) {
		q.Options[i], q.Options[j] = q.Options[j], q.Options[i]
	})
	out.Question = &q
	return &out
}

// Create snapshots the activity's question order into a new ready session.
func (s *SessionService) Create(ctx context.Context, activityID uint, name string, timeLimitSeconds int, shuffle bool) (*models.Session, error) {
	var activity models.Activity
	if err := s.db.WithContext(ctx).First(&activity, activityID).Error; err != nil {
		return nil, notFound(err, "activity", activityID)
	}

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Question{}).
		Where("activity_id = ?", activityID).
		Order("order_num ASC, id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: activity must have at least one question", ErrInvalidInput)
	}

	if timeLimitSeconds <= 0 {
		timeLimitSeconds = activity.TimeLimitSeconds
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = activity.Name
	}

	session := models.Session{
		ActivityID:       activityID,
		Name:             name,
		QuestionIDs:      ids,
		Status:           models.SessionStatusReady,
		TimeLimitSeconds: timeLimitSeconds,
		TimerRemaining:   timeLimitSeconds,
		ShuffleAnswers:   shuffle,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Printf("session: created %d for activity %d (%d questions, %ds each)", session.ID, activityID, len(ids), timeLimitSeconds)
	return &session, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID uint) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, sessionID).Error; err != nil {
		return nil, notFound(err, "session", sessionID)
	}
	return &sess, nil
}

func (s *SessionService) List(ctx context.Context, activityID uint) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// Delete removes a completed session and everything recorded against it.
func (s *SessionService) Delete(ctx context.Context, sessionID uint) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionStatusCompleted {
		return fmt.Errorf("%w: only completed sessions can be deleted", ErrInvalidState)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&models.Response{}, &models.Connection{}, &models.SessionSnapshot{}} {
			if err := tx.Where("session_id = ?", sessionID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ? AND status = ?", sessionID, models.SessionStatusCompleted).
			Delete(&models.Session{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete session %d: %w", sessionID, err)
	}
	s.stats.InvalidateSession(sessionID)
	s.registry.InvalidateStatus(sessionID)
	s.notifier.SessionDeleted(sessionID)
	log.Printf("session: deleted %d", sessionID)
	return nil
}

func (s *SessionService) Start(ctx context.Context, sessionID uint) (*models.Session, error) {
	return s.transition(ctx, sessionID, "start", true, func(sess *models.Session, now time.Time) error {
		if sess.Status != models.SessionStatusReady {
			return fmt.Errorf("%w: cannot start a %s session", ErrInvalidState, sess.Status)
		}
		if sess.TotalQuestions() == 0 {
			return fmt.Errorf("%w: session has no questions", ErrInvalidState)
		}
		sess.Status = models.SessionStatusActive
		sess.CurrentQuestionIndex = 0
		sess.QuestionStartedAt = &now
		sess.PausedAt = nil
		sess.TimerRemaining = sess.TimeLimitSeconds
		return nil
	}, nil)
}

// Next is never retried on a concurrent update: a second attempt would
// advance twice.
func (s *SessionService) Next(ctx context.Context, sessionID uint) (*models.Session, error) {
	return s.transition(ctx, sessionID, "next", false, func(sess *models.Session, now time.Time) error {
		if sess.Status != models.SessionStatusActive {
			return fmt.Errorf("%w: cannot advance a %s session", ErrInvalidState, sess.Status)
		}
		if sess.CurrentQuestionIndex+1 >= sess.TotalQuestions() {
			return fmt.Errorf("%w: question %d of %d is the last", ErrNoMoreQuestions, sess.CurrentQuestionIndex+1, sess.TotalQuestions())
		}
		sess.CurrentQuestionIndex++
		sess.QuestionStartedAt = &now
		sess.TimerRemaining = sess.TimeLimitSeconds
		return nil
	}, s.registry.clearAnswered)
}

func (s *SessionService) Pause(ctx context.Context, sessionID uint) (*models.Session, error) {
	return s.transition(ctx, sessionID, "pause", true, func(sess *models.Session, now time.Time) error {
		if sess.Status != models.SessionStatusActive {
			return fmt.Errorf("%w: cannot pause a %s session", ErrInvalidState, sess.Status)
		}
		sess.TimerRemaining = s.remaining(sess, now)
		sess.PausedAt = &now
		sess.Status = models.SessionStatusPaused
		return nil
	}, nil)
}

func (s *SessionService) Resume(ctx context.Context, sessionID uint) (*models.Session, error) {
	return s.transition(ctx, sessionID, "resume", true, func(sess *models.Session, now time.Time) error {
		if sess.Status != models.SessionStatusPaused {
			return fmt.Errorf("%w: cannot resume a %s session", ErrInvalidState, sess.Status)
		}
		var started time.Time
		if sess.PausedAt != nil && sess.QuestionStartedAt != nil {
			sess.AccumulatedPauseSeconds += timer.ElapsedSeconds(*sess.PausedAt, now)
			started = timer.ShiftStart(*sess.QuestionStartedAt, *sess.PausedAt, now)
		} else {
			started = timer.ResumeStart(sess.TimeLimitSeconds, sess.TimerRemaining, now)
		}
		sess.QuestionStartedAt = &started
		sess.PausedAt = nil
		sess.Status = models.SessionStatusActive
		return nil
	}, nil)
}

// Stop completes the session from any non-terminal state, then writes the
// final snapshot and hands tallies to grade sync outside the transaction.
func (s *SessionService) Stop(ctx context.Context, sessionID uint) (*models.Session, error) {
	sess, err := s.transition(ctx, sessionID, "stop", true, func(sess *models.Session, now time.Time) error {
		if sess.IsTerminal() {
			return fmt.Errorf("%w: session already completed", ErrInvalidState)
		}
		if sess.Status == models.SessionStatusPaused && sess.PausedAt != nil {
			sess.AccumulatedPauseSeconds += timer.ElapsedSeconds(*sess.PausedAt, now)
		} else if sess.Status == models.SessionStatusActive {
			sess.TimerRemaining = s.remaining(sess, now)
		}
		sess.PausedAt = nil
		sess.Status = models.SessionStatusCompleted
		sess.TimeCompletedAt = &now
		return nil
	}, s.registry.disconnectAll)
	if err != nil {
		return nil, err
	}

	if _, err := s.stats.WriteSnapshot(ctx, sessionID); err != nil {
		log.Printf("session: final snapshot for %d: %v", sessionID, err)
	}
	tallies, err := s.stats.FinalTallies(ctx, sessionID)
	if err != nil {
		log.Printf("session: final tallies for %d: %v", sessionID, err)
		return sess, nil
	}
	go s.syncGrades(sessionID, tallies)
	return sess, nil
}

func (s *SessionService) syncGrades(sessionID uint, tallies []GradeTally) {
	ctx, cancel := context.WithTimeout(context.Background(), s.gradeTimeout)
	defer cancel()
	if err := s.grades.SyncGrades(ctx, sessionID, tallies); err != nil {
		log.Printf("session: grade sync for %d failed: %v", sessionID, err)
		return
	}
	log.Printf("session: grade sync for %d delivered %d tallies", sessionID, len(tallies))
}

func (s *SessionService) GetCurrentQuestion(ctx context.Context, sessionID uint) (*CurrentQuestion, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, sess)
}

func (s *SessionService) describe(ctx context.Context, sess *models.Session) (*CurrentQuestion, error) {
	cq := &CurrentQuestion{
		SessionID:        sess.ID,
		Status:           sess.Status,
		QuestionIndex:    sess.CurrentQuestionIndex,
		TotalQuestions:   sess.TotalQuestions(),
		TimeLimitSeconds: sess.TimeLimitSeconds,
		TimeRemaining:    s.remaining(sess, s.now()),
		shuffle:          sess.ShuffleAnswers,
	}
	if sess.Status != models.SessionStatusActive && sess.Status != models.SessionStatusPaused {
		return cq, nil
	}

	q, err := s.questions.Get(ctx, sess.CurrentQuestionID())
	if err != nil {
		return nil, err
	}
	view := &QuestionView{ID: q.ID, Text: q.Text, ImageURL: q.ImageURL}
	if len(q.Options) == 0 {
		for _, k := range models.DefaultOptionKeys {
			view.Options = append(view.Options, OptionView{Key: k})
		}
	}
	for _, o := range q.Options {
		view.Options = append(view.Options, OptionView{Key: strings.ToUpper(o.Key), Text: o.Text})
	}
	cq.Question = view
	return cq, nil
}

// remaining is the single time-left formula. Paused sessions report the value
// frozen at pause time.
func (s *SessionService) remaining(sess *models.Session, now time.Time) int {
	switch sess.Status {
	case models.SessionStatusReady:
		return sess.TimeLimitSeconds
	case models.SessionStatusPaused:
		return sess.TimerRemaining
	case models.SessionStatusCompleted:
		return 0
	}
	if sess.QuestionStartedAt == nil {
		return sess.TimeLimitSeconds
	}
	return timer.Remaining(sess.TimeLimitSeconds, *sess.QuestionStartedAt, now)
}

type mutation func(sess *models.Session, now time.Time) error

// transition applies mutate under a single-row optimistic check on the
// version column. On conflict the row is reloaded and mutate re-validated
// when retry is set; otherwise ErrConcurrentUpdate is returned.
func (s *SessionService) transition(ctx context.Context, sessionID uint, op string, retry bool, mutate mutation, within func(tx *gorm.DB, sessionID uint) error) (*models.Session, error) {
	attempts := 1
	if retry {
		attempts = maxTransitionAttempts
	}

	for i := 0; i < attempts; i++ {
		sess, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		prevVersion := sess.Version
		if err := mutate(sess, s.now()); err != nil {
			return nil, err
		}
		sess.Version = prevVersion + 1

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Session{}).
				Where("id = ? AND version = ?", sess.ID, prevVersion).
				Updates(map[string]interface{}{
					"status":                    sess.Status,
					"current_question_index":    sess.CurrentQuestionIndex,
					"question_started_at":       sess.QuestionStartedAt,
					"paused_at":                 sess.PausedAt,
					"timer_remaining":           sess.TimerRemaining,
					"accumulated_pause_seconds": sess.AccumulatedPauseSeconds,
					"time_completed_at":         sess.TimeCompletedAt,
					"version":                   sess.Version,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}
			if within != nil {
				return within(tx, sess.ID)
			}
			return nil
		})
		if errors.Is(err, errVersionConflict) {
			log.Printf("session: %s on %d lost a concurrent update (attempt %d)", op, sessionID, i+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s session %d: %w", op, sessionID, err)
		}

		s.committed(sess, op)
		return sess, nil
	}
	return nil, fmt.Errorf("%w: %s on session %d", ErrConcurrentUpdate, op, sessionID)
}

func (s *SessionService) committed(sess *models.Session, op string) {
	s.stats.InvalidateSession(sess.ID)
	s.registry.InvalidateStatus(sess.ID)
	s.notifier.SessionChanged(*sess)
	log.Printf("session: %s %d -> %s (question %d/%d)", op, sess.ID, sess.Status, sess.CurrentQuestionIndex+1, sess.TotalQuestions())
}
