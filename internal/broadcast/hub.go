package broadcast

import (
	"log"
	"sync"

	"classengage-backend/internal/models"
)

const subscriberBuffer = 8

// Subscription receives committed session states in version order. A slow
// subscriber misses frames rather than blocking the publisher; its stream loop
// reconciles from the store on the next tick.
type Subscription struct {
	SessionID uint
	C         <-chan models.Session
	ch        chan models.Session
}

type sessionState struct {
	version   int
	index     int
	published bool
}

// Hub fans committed session transitions out to push subscribers in-process.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uint]map[*Subscription]bool
	last     map[uint]sessionState
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[uint]map[*Subscription]bool),
		last:     make(map[uint]sessionState),
	}
}

func (h *Hub) Subscribe(sessionID uint) *Subscription {
	ch := make(chan models.Session, subscriberBuffer)
	sub := &Subscription{SessionID: sessionID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*Subscription]bool)
	}
	h.sessions[sessionID][sub] = true
	log.Printf("broadcast: subscriber joined session %d (total: %d)", sessionID, len(h.sessions[sessionID]))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sub.SessionID]
	if !ok || !subs[sub] {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.sessions, sub.SessionID)
	}
	log.Printf("broadcast: subscriber left session %d", sub.SessionID)
}

// SessionChanged publishes a committed transition. Notifications older than
// the last published version are dropped, and so is any active state whose
// question index is behind the last one published.
func (h *Hub) SessionChanged(sess models.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.last[sess.ID]
	if prev.published {
		if sess.Version <= prev.version {
			log.Printf("broadcast: dropped stale v%d for session %d (have v%d)", sess.Version, sess.ID, prev.version)
			return
		}
		if sess.Status == models.SessionStatusActive && sess.CurrentQuestionIndex < prev.index {
			log.Printf("broadcast: dropped question %d for session %d (already at %d)", sess.CurrentQuestionIndex, sess.ID, prev.index)
			return
		}
	}
	h.last[sess.ID] = sessionState{version: sess.Version, index: sess.CurrentQuestionIndex, published: true}

	for sub := range h.sessions[sess.ID] {
		select {
		case sub.ch <- sess:
		default:
			log.Printf("broadcast: subscriber of session %d is behind, skipping v%d", sess.ID, sess.Version)
		}
	}
}

// SessionDeleted drops the ordering record of a deleted session.
func (h *Hub) SessionDeleted(sessionID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, sessionID)
}

func (h *Hub) Subscribers(sessionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
