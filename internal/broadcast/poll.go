package broadcast

import (
	"context"
	"log"
	"time"

	"classengage-backend/internal/services"
	"classengage-backend/internal/timer"
)

// Snapshot is the poll contract: the frames a push client would currently
// hold, built by the same Builder.
type Snapshot struct {
	SessionID       uint      `json:"session_id"`
	Status          string    `json:"status"`
	ServerTimestamp time.Time `json:"server_timestamp"`
	Events          []Event   `json:"events"`
	StatsHash       string    `json:"stats_hash,omitempty"`
	StudentsHash    string    `json:"students_hash,omitempty"`
}

// PollRequest carries what the client saw last. Hashes it already holds are
// not sent again.
type PollRequest struct {
	LastStatus   string
	StatsHash    string
	StudentsHash string
}

type Poller struct {
	builder  *Builder
	registry *services.ConnectionRegistry
	now      timer.Clock
}

func NewPoller(builder *Builder, registry *services.ConnectionRegistry, now timer.Clock) *Poller {
	if now == nil {
		now = time.Now
	}
	return &Poller{builder: builder, registry: registry, now: now}
}

func (p *Poller) Snapshot(ctx context.Context, v Viewer, req PollRequest) (*Snapshot, error) {
	if v.ConnectionID != "" {
		p.registry.Touch(ctx, v.SessionID, v.UserID, v.ConnectionID)
	}

	cq, err := p.builder.Current(ctx, v)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		SessionID:       v.SessionID,
		Status:          cq.Status,
		ServerTimestamp: p.now(),
		Events:          []Event{},
	}
	if ev, ok := p.builder.State(cq, req.LastStatus); ok {
		snap.Events = append(snap.Events, ev)
	}

	if !v.Instructor {
		return snap, nil
	}

	if ev, err := p.builder.Stats(ctx, v.SessionID); err != nil {
		log.Printf("broadcast: poll stats for session %d: %v", v.SessionID, err)
	} else {
		snap.StatsHash = ev.Hash
		if ev.Hash != req.StatsHash {
			snap.Events = append(snap.Events, ev)
		}
	}
	if ev, err := p.builder.Students(ctx, v.SessionID); err != nil {
		log.Printf("broadcast: poll students for session %d: %v", v.SessionID, err)
	} else {
		snap.StudentsHash = ev.Hash
		if ev.Hash != req.StudentsHash {
			snap.Events = append(snap.Events, ev)
		}
	}
	return snap, nil
}
