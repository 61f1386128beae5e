package broadcast

import (
	"testing"

	"classengage-backend/internal/models"
)

func active(id uint, version, index int) models.Session {
	return models.Session{ID: id, Version: version, CurrentQuestionIndex: index, Status: models.SessionStatusActive}
}

func drain(sub *Subscription) []models.Session {
	var out []models.Session
	for {
		select {
		case s := <-sub.C:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestHubOrdersQuestionBroadcasts(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)
	other := hub.Subscribe(2)

	hub.SessionChanged(active(1, 1, 0))
	hub.SessionChanged(active(1, 3, 2))
	hub.SessionChanged(active(1, 2, 1)) // older version arriving late
	hub.SessionChanged(active(1, 4, 1)) // newer version but an earlier question

	paused := active(1, 5, 2)
	paused.Status = models.SessionStatusPaused
	hub.SessionChanged(paused)

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("delivered %d states, want 3: %+v", len(got), got)
	}
	for i, want := range []int{1, 3, 5} {
		if got[i].Version != want {
			t.Errorf("delivery %d has version %d, want %d", i, got[i].Version, want)
		}
	}
	if n := len(drain(other)); n != 0 {
		t.Errorf("other session received %d states", n)
	}
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)

	for v := 1; v <= subscriberBuffer*3; v++ {
		hub.SessionChanged(active(1, v, 0))
	}
	if got := len(drain(sub)); got != subscriberBuffer {
		t.Errorf("buffered %d, want %d", got, subscriberBuffer)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(1)
	b := hub.Subscribe(1)
	if hub.Subscribers(1) != 2 {
		t.Fatalf("subscribers = %d", hub.Subscribers(1))
	}

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	if _, ok := <-a.C; ok {
		t.Error("unsubscribed channel still open")
	}
	hub.SessionChanged(active(1, 1, 0))
	if len(drain(b)) != 1 {
		t.Error("remaining subscriber missed the update")
	}

	hub.Unsubscribe(b)
	if hub.Subscribers(1) != 0 {
		t.Errorf("subscribers = %d after all left", hub.Subscribers(1))
	}

	hub.SessionDeleted(1)
	c := hub.Subscribe(1)
	hub.SessionChanged(active(1, 1, 0))
	if len(drain(c)) != 1 {
		t.Error("version record survived SessionDeleted")
	}
}
