package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"classengage-backend/internal/database"
	"classengage-backend/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []models.Session
	deleted []uint
}

func (n *recordingNotifier) SessionChanged(sess models.Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, sess)
}

func (n *recordingNotifier) SessionDeleted(id uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
}

func (n *recordingNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.changes))
	for _, s := range n.changes {
		out = append(out, s.Status)
	}
	return out
}

type recordingSyncer struct {
	got chan []GradeTally
}

func (r *recordingSyncer) SyncGrades(_ context.Context, _ uint, tallies []GradeTally) error {
	r.got <- tallies
	return nil
}

type testEnv struct {
	db         *gorm.DB
	clock      *testClock
	notifier   *recordingNotifier
	grades     *recordingSyncer
	questions  *QuestionCache
	registry   *ConnectionRegistry
	stats      *StatsService
	sessions   *SessionService
	responses  *ResponseService
	clickers   *ClickerService
	activities *ActivityService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:       db,
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
		grades:   &recordingSyncer{got: make(chan []GradeTally, 8)},
	}
	env.questions = NewQuestionCache(db, time.Minute)
	env.registry = NewConnectionRegistry(db, 30*time.Second, 0, env.clock.Now)
	env.stats = NewStatsService(db, env.questions, env.registry, NewScoringService(), 2*time.Second, 5*time.Second)
	env.sessions = NewSessionService(db, env.questions, env.registry, env.stats, env.grades, env.notifier, env.clock.Now)
	env.clickers = NewClickerService(db)
	env.responses = NewResponseService(db, env.questions, env.stats, env.registry, env.clickers, env.clock.Now)
	env.activities = NewActivityService(db, env.questions)
	return env
}

// seedSession creates an activity with n four-option questions whose correct
// answer is always "B", and a ready session over it.
func (e *testEnv) seedSession(t *testing.T, n, timeLimit int) *models.Session {
	t.Helper()
	ctx := context.Background()

	activity, err := e.activities.CreateActivity(ctx, "Biology", timeLimit)
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	for i := 0; i < n; i++ {
		_, err := e.activities.AddQuestion(ctx, activity.ID, QuestionInput{
			Text: fmt.Sprintf("Question %d", i+1),
			Options: []OptionInput{
				{Key: "A", Text: "alpha"},
				{Key: "B", Text: "beta"},
				{Key: "C", Text: "gamma"},
				{Key: "D", Text: "delta"},
			},
			CorrectAnswer: "B",
		})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
	}

	sess, err := e.sessions.Create(ctx, activity.ID, "", 0, false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (e *testEnv) startedSession(t *testing.T, n, timeLimit int) *models.Session {
	t.Helper()
	sess := e.seedSession(t, n, timeLimit)
	started, err := e.sessions.Start(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return started
}
