package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"classengage-backend/internal/database"
	"classengage-backend/internal/services"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type testEnv struct {
	hub       *Hub
	registry  *services.ConnectionRegistry
	sessions  *services.SessionService
	responses *services.ResponseService
	builder   *Builder
	sessionID uint
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{hub: NewHub()}
	questions := services.NewQuestionCache(db, time.Minute)
	env.registry = services.NewConnectionRegistry(db, 30*time.Second, 0, clock)
	stats := services.NewStatsService(db, questions, env.registry, services.NewScoringService(), time.Second, time.Second)
	env.sessions = services.NewSessionService(db, questions, env.registry, stats, services.LogGradeSyncer{}, env.hub, clock)
	env.responses = services.NewResponseService(db, questions, stats, env.registry, services.NewClickerService(db), clock)
	env.builder = NewBuilder(env.sessions, stats, env.registry, clock)

	ctx := context.Background()
	activities := services.NewActivityService(db, questions)
	activity, err := activities.CreateActivity(ctx, "Chemistry", 30)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_, err := activities.AddQuestion(ctx, activity.ID, services.QuestionInput{
			Text:          fmt.Sprintf("Q%d", i+1),
			Options:       []services.OptionInput{{Key: "A", Text: "a"}, {Key: "B", Text: "b"}, {Key: "C", Text: "c"}},
			CorrectAnswer: "A",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sess, err := env.sessions.Create(ctx, activity.ID, "", 0, true)
	if err != nil {
		t.Fatal(err)
	}
	env.sessionID = sess.ID
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if _, err := e.sessions.Start(context.Background(), e.sessionID); err != nil {
		t.Fatalf("start: %v", err)
	}
}

// recordingSink collects frames and lets tests wait for a given type.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 1)}
}

func (r *recordingSink) Send(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) count(eventType string) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// waitFor blocks until at least n frames of eventType have arrived.
func (r *recordingSink) waitFor(t *testing.T, eventType string, n int) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		var last Event
		seen := 0
		for _, ev := range r.snapshot() {
			if ev.Type == eventType {
				seen++
				last = ev
			}
		}
		if seen >= n {
			return last
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s frames; got %v", n, eventType, types(r.snapshot()))
		}
	}
}

func types(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func stateIndex(t *testing.T, ev Event) int {
	t.Helper()
	cq, ok := ev.Data.(*services.CurrentQuestion)
	if !ok {
		t.Fatalf("%s carries %T", ev.Type, ev.Data)
	}
	return cq.QuestionIndex
}
