package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"classengage-backend/internal/models"

	"gorm.io/gorm"
)

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.seedSession(t, 2, 30)

	if sess.Status != models.SessionStatusReady || sess.TotalQuestions() != 2 {
		t.Fatalf("new session = %s with %d questions", sess.Status, sess.TotalQuestions())
	}

	started, err := env.sessions.Start(ctx, sess.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != models.SessionStatusActive || started.CurrentQuestionIndex != 0 {
		t.Fatalf("after start: status=%s index=%d", started.Status, started.CurrentQuestionIndex)
	}
	if _, err := env.sessions.Start(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second start: got %v, want ErrInvalidState", err)
	}

	next, err := env.sessions.Next(ctx, sess.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.CurrentQuestionIndex != 1 {
		t.Errorf("index after next = %d, want 1", next.CurrentQuestionIndex)
	}

	if _, err := env.sessions.Next(ctx, sess.ID); !errors.Is(err, ErrNoMoreQuestions) {
		t.Errorf("next on last question: got %v, want ErrNoMoreQuestions", err)
	}
	still, _ := env.sessions.Get(ctx, sess.ID)
	if still.Status != models.SessionStatusActive || still.CurrentQuestionIndex != 1 {
		t.Errorf("failed next changed the session: status=%s index=%d", still.Status, still.CurrentQuestionIndex)
	}

	stopped, err := env.sessions.Stop(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != models.SessionStatusCompleted || stopped.TimeCompletedAt == nil {
		t.Errorf("after stop: status=%s completedAt=%v", stopped.Status, stopped.TimeCompletedAt)
	}

	if _, err := env.responses.SubmitSingle(ctx, sess.ID, 1, "B", nil); !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("submit after stop: got %v, want ErrSessionNotActive", err)
	}
	for name, op := range map[string]func(context.Context, uint) (*models.Session, error){
		"start":  env.sessions.Start,
		"pause":  env.sessions.Pause,
		"resume": env.sessions.Resume,
		"next":   env.sessions.Next,
		"stop":   env.sessions.Stop,
	} {
		if _, err := op(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s on completed session: got %v, want ErrInvalidState", name, err)
		}
	}

	want := []string{models.SessionStatusActive, models.SessionStatusActive, models.SessionStatusCompleted}
	if got := env.notifier.statuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("notified statuses = %v, want %v", got, want)
	}
}

func TestPauseAndResumeRequireMatchingState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.seedSession(t, 1, 30)

	if _, err := env.sessions.Pause(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("pause on ready: got %v, want ErrInvalidState", err)
	}
	if _, err := env.sessions.Next(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("next on ready: got %v, want ErrInvalidState", err)
	}

	env.sessions.Start(ctx, sess.ID)
	if _, err := env.sessions.Resume(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("resume on active: got %v, want ErrInvalidState", err)
	}

	env.sessions.Pause(ctx, sess.ID)
	if _, err := env.sessions.Next(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("next on paused: got %v, want ErrInvalidState", err)
	}
}

func TestPauseResumeKeepsRemainingTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.startedSession(t, 1, 30)

	env.clock.Advance(10 * time.Second)
	paused, err := env.sessions.Pause(ctx, sess.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.TimerRemaining != 20 {
		t.Errorf("remaining at pause = %d, want 20", paused.TimerRemaining)
	}

	env.clock.Advance(5 * time.Minute)
	cq, _ := env.sessions.GetCurrentQuestion(ctx, sess.ID)
	if cq.TimeRemaining != 20 {
		t.Errorf("remaining while paused = %d, want 20", cq.TimeRemaining)
	}
	if _, err := env.responses.SubmitSingle(ctx, sess.ID, 1, "B", nil); !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("submit while paused: got %v, want ErrSessionNotActive", err)
	}

	resumed, err := env.sessions.Resume(ctx, sess.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.AccumulatedPauseSeconds != 300 {
		t.Errorf("accumulated pause = %d, want 300", resumed.AccumulatedPauseSeconds)
	}
	cq, _ = env.sessions.GetCurrentQuestion(ctx, sess.ID)
	if cq.TimeRemaining != 20 {
		t.Errorf("remaining right after resume = %d, want 20", cq.TimeRemaining)
	}

	env.clock.Advance(5 * time.Second)
	cq, _ = env.sessions.GetCurrentQuestion(ctx, sess.ID)
	if cq.TimeRemaining != 15 {
		t.Errorf("remaining 5s after resume = %d, want 15", cq.TimeRemaining)
	}

	// latency is measured against the reconstructed start, so the pause is not counted
	res, err := env.responses.SubmitSingle(ctx, sess.ID, 1, "B", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.LatencySeconds != 15 || res.IsLate {
		t.Errorf("latency = %v late=%v, want 15 and on time", res.LatencySeconds, res.IsLate)
	}
}

func TestPauseResumeCarriesSubSecondUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.startedSession(t, 1, 30)

	for i := 0; i < 3; i++ {
		env.clock.Advance(700 * time.Millisecond)
		if _, err := env.sessions.Pause(ctx, sess.ID); err != nil {
			t.Fatalf("pause %d: %v", i, err)
		}
		env.clock.Advance(time.Minute)
		if _, err := env.sessions.Resume(ctx, sess.ID); err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
	}

	// three 0.7s slices add up to 2.1s of used time
	cq, _ := env.sessions.GetCurrentQuestion(ctx, sess.ID)
	if cq.TimeRemaining != 28 {
		t.Errorf("remaining = %d, want 28", cq.TimeRemaining)
	}
}

func TestNextClearsAnsweredFlags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.startedSession(t, 2, 30)

	for _, user := range []uint{1, 2} {
		if _, err := env.registry.Register(ctx, sess.ID, user, "", models.TransportPoll); err != nil {
			t.Fatalf("register %d: %v", user, err)
		}
	}
	if _, err := env.responses.SubmitSingle(ctx, sess.ID, 1, "A", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats, _ := env.registry.GetStatistics(ctx, sess.ID)
	if stats != (ConnectionStats{Connected: 2, Answered: 1, Pending: 1}) {
		t.Fatalf("before next: %+v", stats)
	}

	if _, err := env.sessions.Next(ctx, sess.ID); err != nil {
		t.Fatalf("next: %v", err)
	}
	stats, _ = env.registry.GetStatistics(ctx, sess.ID)
	if stats != (ConnectionStats{Connected: 2, Answered: 0, Pending: 2}) {
		t.Errorf("after next: %+v", stats)
	}
}

func TestStopFromReadyAndPaused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ready := env.seedSession(t, 1, 30)
	if _, err := env.sessions.Stop(ctx, ready.ID); err != nil {
		t.Fatalf("stop from ready: %v", err)
	}
	summary, err := env.stats.GetSessionSummary(ctx, ready.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.QuestionsPresented != 0 {
		t.Errorf("aborted session presented %d questions, want 0", summary.QuestionsPresented)
	}

	paused := env.startedSession(t, 1, 30)
	env.clock.Advance(4 * time.Second)
	env.sessions.Pause(ctx, paused.ID)
	env.clock.Advance(6 * time.Second)
	stopped, err := env.sessions.Stop(ctx, paused.ID)
	if err != nil {
		t.Fatalf("stop from paused: %v", err)
	}
	if stopped.AccumulatedPauseSeconds != 6 || stopped.PausedAt != nil {
		t.Errorf("stop from paused: accumulated=%d pausedAt=%v", stopped.AccumulatedPauseSeconds, stopped.PausedAt)
	}
}

func TestStopDisconnectsAndSyncsGrades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.startedSession(t, 2, 30)

	env.registry.Register(ctx, sess.ID, 1, "", models.TransportPush)
	env.responses.SubmitSingle(ctx, sess.ID, 1, "B", nil)
	env.responses.SubmitSingle(ctx, sess.ID, 2, "C", nil)
	env.sessions.Next(ctx, sess.ID)
	env.responses.SubmitSingle(ctx, sess.ID, 1, "B", nil)

	if _, err := env.sessions.Stop(ctx, sess.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var live int64
	env.db.Model(&models.Connection{}).
		Where("session_id = ? AND status <> ?", sess.ID, models.ConnectionStatusDisconnected).
		Count(&live)
	if live != 0 {
		t.Errorf("%d connections still live after stop", live)
	}

	snap, err := env.stats.GetSnapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalParticipants != 2 || snap.TotalResponses != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AvgScore != 50 || snap.CompletionRate != 75 {
		t.Errorf("snapshot avg=%v completion=%v, want 50 and 75", snap.AvgScore, snap.CompletionRate)
	}

	select {
	case tallies := <-env.grades.got:
		want := []GradeTally{
			{UserID: 1, Answered: 2, Correct: 2, TotalQuestions: 2, Score: 100},
			{UserID: 2, Answered: 1, Correct: 0, TotalQuestions: 2, Score: 0},
		}
		if !reflect.DeepEqual(tallies, want) {
			t.Errorf("tallies = %+v, want %+v", tallies, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("grade sync was not called")
	}
}

func TestTransitionOnVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.startedSession(t, 3, 30)

	bumps := 0
	racing := func(s *models.Session, now time.Time) error {
		if bumps == 0 {
			bumps++
			env.db.Model(&models.Session{}).Where("id = ?", s.ID).
				Update("version", gorm.Expr("version + 1"))
		}
		s.CurrentQuestionIndex++
		return nil
	}

	if _, err := env.sessions.transition(ctx, sess.ID, "next", false, racing, nil); !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("unretried transition: got %v, want ErrConcurrentUpdate", err)
	}
	cur, _ := env.sessions.Get(ctx, sess.ID)
	if cur.CurrentQuestionIndex != 0 {
		t.Errorf("lost update was applied: index=%d", cur.CurrentQuestionIndex)
	}

	bumps = 0
	out, err := env.sessions.transition(ctx, sess.ID, "next", true, racing, nil)
	if err != nil {
		t.Fatalf("retried transition: %v", err)
	}
	if out.CurrentQuestionIndex != 1 {
		t.Errorf("retried transition advanced to %d, want exactly 1", out.CurrentQuestionIndex)
	}
}

func TestDeleteOnlyCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.startedSession(t, 1, 30)
	env.responses.SubmitSingle(ctx, sess.ID, 1, "A", nil)

	if err := env.sessions.Delete(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("delete active: got %v, want ErrInvalidState", err)
	}

	env.sessions.Stop(ctx, sess.ID)
	if err := env.sessions.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete completed: %v", err)
	}
	if _, err := env.sessions.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: got %v, want ErrNotFound", err)
	}
	if n, _ := env.responses.CountForQuestion(ctx, sess.ID, sess.QuestionIDs[0]); n != 0 {
		t.Errorf("%d responses survived delete", n)
	}
	if len(env.notifier.deleted) != 1 || env.notifier.deleted[0] != sess.ID {
		t.Errorf("deleted notifications = %v", env.notifier.deleted)
	}
}

func TestCreateRejectsEmptyActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	activity, _ := env.activities.CreateActivity(ctx, "Empty", 30)
	if _, err := env.sessions.Create(ctx, activity.ID, "", 0, false); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("create over empty activity: got %v, want ErrInvalidInput", err)
	}
	if _, err := env.sessions.Create(ctx, 9999, "", 0, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("create over missing activity: got %v, want ErrNotFound", err)
	}
}

func TestForUserShuffleIsStable(t *testing.T) {
	cq := &CurrentQuestion{
		SessionID: 1,
		shuffle:   true,
		Question: &QuestionView{ID: 5, Options: []OptionView{
			{Key: "A"}, {Key: "B"}, {Key: "C"}, {Key: "D"},
		}},
	}

	a := cq.ForUser(42)
	b := cq.ForUser(42)
	if !reflect.DeepEqual(a.Question.Options, b.Question.Options) {
		t.Errorf("shuffle not deterministic: %v vs %v", a.Question.Options, b.Question.Options)
	}
	if cq.Question.Options[0].Key != "A" || cq.Question.Options[3].Key != "D" {
		t.Errorf("ForUser mutated the shared view: %v", cq.Question.Options)
	}

	seen := map[string]bool{}
	for _, o := range a.Question.Options {
		seen[o.Key] = true
	}
	if len(seen) != 4 {
		t.Errorf("shuffle lost options: %v", a.Question.Options)
	}

	cq.shuffle = false
	if cq.ForUser(42) != cq {
		t.Error("unshuffled session should return the shared view")
	}
}
