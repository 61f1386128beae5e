package broadcast

import (
	"context"
	"errors"
	"time"

	"classengage-backend/internal/models"
	"classengage-backend/internal/services"
	"classengage-backend/internal/timer"
)

// Viewer identifies who a stream or poll is being built for.
type Viewer struct {
	SessionID    uint
	UserID       uint
	ConnectionID string
	Instructor   bool
}

type StatsPayload struct {
	Question    *services.QuestionStats  `json:"question,omitempty"`
	Connections services.ConnectionStats `json:"connections"`
}

// StudentEntry leaves out last-activity timestamps so the hash only moves
// when something an instructor would see changes.
type StudentEntry struct {
	UserID      uint   `json:"user_id"`
	Transport   string `json:"transport"`
	Status      string `json:"status"`
	HasAnswered bool   `json:"has_answered"`
}

type Builder struct {
	sessions *services.SessionService
	stats    *services.StatsService
	registry *services.ConnectionRegistry
	now      timer.Clock
}

func NewBuilder(sessions *services.SessionService, stats *services.StatsService, registry *services.ConnectionRegistry, now timer.Clock) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{sessions: sessions, stats: stats, registry: registry, now: now}
}

func (b *Builder) Connected(v Viewer) Event {
	return Event{Type: EventConnected, Data: ConnectedData{
		SessionID:       v.SessionID,
		UserID:          v.UserID,
		ConnectionID:    v.ConnectionID,
		Instructor:      v.Instructor,
		ServerTimestamp: b.now(),
	}}
}

func (b *Builder) Keepalive() Event {
	return Event{Type: EventKeepalive, Data: KeepaliveData{ServerTimestamp: b.now()}}
}

func (b *Builder) Reconnect(reason string) Event {
	return Event{Type: EventReconnect, Data: ReconnectData{Reason: reason}}
}

// Current loads the session's question view as the viewer should see it.
func (b *Builder) Current(ctx context.Context, v Viewer) (*services.CurrentQuestion, error) {
	cq, err := b.sessions.GetCurrentQuestion(ctx, v.SessionID)
	if err != nil {
		return nil, err
	}
	if !v.Instructor {
		cq = cq.ForUser(v.UserID)
	}
	return cq, nil
}

// State maps a question view to its status event. prevStatus is the status the
// client last saw, empty when unknown. A ready session has no event.
func (b *Builder) State(cq *services.CurrentQuestion, prevStatus string) (Event, bool) {
	switch cq.Status {
	case models.SessionStatusActive:
		if prevStatus == models.SessionStatusPaused {
			return Event{Type: EventSessionResumed, Data: cq}, true
		}
		return Event{Type: EventQuestionBroadcast, Data: cq}, true
	case models.SessionStatusPaused:
		return Event{Type: EventSessionPaused, Data: cq}, true
	case models.SessionStatusCompleted:
		return Event{Type: EventSessionCompleted, Data: cq}, true
	}
	return Event{}, false
}

func (b *Builder) Stats(ctx context.Context, sessionID uint) (Event, error) {
	var payload StatsPayload
	qs, err := b.stats.GetCurrentQuestionStats(ctx, sessionID)
	switch {
	case err == nil:
		payload.Question = &qs
	case errors.Is(err, services.ErrInvalidState):
	default:
		return Event{}, err
	}

	conns, err := b.registry.GetStatistics(ctx, sessionID)
	if err != nil {
		return Event{}, err
	}
	payload.Connections = conns
	return hashed(EventStatsUpdate, payload)
}

func (b *Builder) Students(ctx context.Context, sessionID uint) (Event, error) {
	presence, err := b.registry.ListStudents(ctx, sessionID)
	if err != nil {
		return Event{}, err
	}
	entries := make([]StudentEntry, 0, len(presence))
	for _, p := range presence {
		entries = append(entries, StudentEntry{
			UserID:      p.UserID,
			Transport:   p.Transport,
			Status:      p.Status,
			HasAnswered: p.HasAnswered,
		})
	}
	return hashed(EventStudentsUpdate, entries)
}

func hashed(eventType string, data interface{}) (Event, error) {
	h, err := contentHash(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data, Hash: h}, nil
}
