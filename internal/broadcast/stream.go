package broadcast

import (
	"context"
	"errors"
	"log"
	"time"

	"classengage-backend/internal/models"
	"classengage-backend/internal/services"
	"classengage-backend/internal/timer"
)

// Sink is one client's push channel: an SSE response or a websocket.
type Sink interface {
	Send(ev Event) error
}

type StreamConfig struct {
	Tick       time.Duration
	Keepalive  time.Duration
	MaxRuntime time.Duration
}

// Streamer runs the push loop for a single client. It wakes on hub
// notifications and on every tick, and sends a state frame only when the
// (status, question) pair the client last saw changes.
type Streamer struct {
	builder  *Builder
	hub      *Hub
	registry *services.ConnectionRegistry
	cfg      StreamConfig
	now      timer.Clock
}

func NewStreamer(builder *Builder, hub *Hub, registry *services.ConnectionRegistry, cfg StreamConfig, now timer.Clock) *Streamer {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 15 * time.Second
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Streamer{builder: builder, hub: hub, registry: registry, cfg: cfg, now: now}
}

// errStreamDone ends the loop after a session_completed frame.
var errStreamDone = errors.New("stream done")

type streamState struct {
	seen         bool
	status       string
	index        int
	lastQuestion int
	statsHash    string
	studentsHash string
	lastSentAt   time.Time
}

// Run blocks until ctx is cancelled, the session completes, the sink fails or
// the runtime bound is reached. The last case sends a reconnect frame first.
func (s *Streamer) Run(ctx context.Context, v Viewer, sink Sink) error {
	sub := s.hub.Subscribe(v.SessionID)
	defer s.hub.Unsubscribe(sub)

	st := &streamState{lastQuestion: -1}
	if err := s.send(sink, st, s.builder.Connected(v)); err != nil {
		return err
	}
	if err := s.step(ctx, v, sink, st, true); err != nil {
		return s.finish(err)
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.MaxRuntime)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			log.Printf("broadcast: stream for user %d on session %d hit max runtime", v.UserID, v.SessionID)
			return s.finish(s.send(sink, st, s.builder.Reconnect("max_runtime")))
		case _, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := s.step(ctx, v, sink, st, false); err != nil {
				return s.finish(err)
			}
		case <-ticker.C:
			if v.ConnectionID != "" {
				s.registry.Touch(ctx, v.SessionID, v.UserID, v.ConnectionID)
			}
			if err := s.step(ctx, v, sink, st, true); err != nil {
				return s.finish(err)
			}
			if s.now().Sub(st.lastSentAt) >= s.cfg.Keepalive {
				if err := s.send(sink, st, s.builder.Keepalive()); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Streamer) finish(err error) error {
	if errors.Is(err, errStreamDone) {
		return nil
	}
	return err
}

// step sends the state frame if it changed and, on ticks, the instructor's
// periodic frames if their content changed.
func (s *Streamer) step(ctx context.Context, v Viewer, sink Sink, st *streamState, periodic bool) error {
	cq, err := s.builder.Current(ctx, v)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return err
		}
		log.Printf("broadcast: load session %d: %v", v.SessionID, err)
		return nil
	}

	changed := !st.seen || cq.Status != st.status || cq.QuestionIndex != st.index
	if changed {
		prev := st.status
		st.seen, st.status, st.index = true, cq.Status, cq.QuestionIndex

		if ev, ok := s.builder.State(cq, prev); ok {
			if ev.Type == EventQuestionBroadcast && cq.QuestionIndex < st.lastQuestion {
				log.Printf("broadcast: suppressed question %d after %d on session %d", cq.QuestionIndex, st.lastQuestion, v.SessionID)
			} else {
				if ev.Type == EventQuestionBroadcast || ev.Type == EventSessionResumed {
					st.lastQuestion = cq.QuestionIndex
				}
				if err := s.send(sink, st, ev); err != nil {
					return err
				}
			}
		}
	}

	if v.Instructor && (periodic || changed) {
		if err := s.instructorFrames(ctx, v, sink, st); err != nil {
			return err
		}
	}

	if cq.Status == models.SessionStatusCompleted {
		return errStreamDone
	}
	return nil
}

func (s *Streamer) instructorFrames(ctx context.Context, v Viewer, sink Sink, st *streamState) error {
	if ev, err := s.builder.Stats(ctx, v.SessionID); err != nil {
		log.Printf("broadcast: stats for session %d: %v", v.SessionID, err)
	} else if ev.Hash != st.statsHash {
		st.statsHash = ev.Hash
		if err := s.send(sink, st, ev); err != nil {
			return err
		}
	}

	if ev, err := s.builder.Students(ctx, v.SessionID); err != nil {
		log.Printf("broadcast: students for session %d: %v", v.SessionID, err)
	} else if ev.Hash != st.studentsHash {
		st.studentsHash = ev.Hash
		if err := s.send(sink, st, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Streamer) send(sink Sink, st *streamState, ev Event) error {
	if err := sink.Send(ev); err != nil {
		return err
	}
	st.lastSentAt = s.now()
	return nil
}
