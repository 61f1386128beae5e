package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"classengage-backend/internal/cache"
	"classengage-backend/internal/models"
	"classengage-backend/internal/timer"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionRegistry is advisory presence bookkeeping. Nothing in the answer
// path depends on it succeeding.
type ConnectionRegistry struct {
	db         *gorm.DB
	now        timer.Clock
	staleAfter time.Duration
	statuses   *cache.Cache[uint, string]
}

func NewConnectionRegistry(db *gorm.DB, staleAfter, statusTTL time.Duration, now timer.Clock) *ConnectionRegistry {
	if now == nil {
		now = time.Now
	}
	return &ConnectionRegistry{
		db:         db,
		now:        now,
		staleAfter: staleAfter,
		statuses:   cache.New[uint, string](statusTTL),
	}
}

type ConnectionStats struct {
	Connected int `json:"connected"`
	Answered  int `json:"answered"`
	Pending   int `json:"pending"`
}

type HeartbeatResult struct {
	ServerTimestamp time.Time `json:"server_timestamp"`
	SessionStatus   string    `json:"session_status"`
	ConnectionID    string    `json:"connection_id"`
}

type StudentPresence struct {
	UserID         uint      `json:"user_id"`
	ConnectionID   string    `json:"connection_id"`
	Transport      string    `json:"transport"`
	Status         string    `json:"status"`
	HasAnswered    bool      `json:"has_answered"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (r *ConnectionRegistry) StaleAfter() time.Duration {
	return r.staleAfter
}

// Register records a new live channel for the user. Earlier channels of the
// same user are kept for audit but marked superseded. An empty connectionID
// gets a fresh one; a supplied id may only be reused by the session and user
// that first registered it.
func (r *ConnectionRegistry) Register(ctx context.Context, sessionID, userID uint, connectionID, transport string) (*models.Connection, error) {
	status, err := r.SessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if status == models.SessionStatusCompleted {
		return nil, fmt.Errorf("session %d is completed: %w", sessionID, ErrSessionNotActive)
	}

	if transport != models.TransportPush {
		transport = models.TransportPoll
	}
	if connectionID == "" {
		connectionID = uuid.NewString()
	}
	now := r.now()

	conn := models.Connection{
		ConnectionID:   connectionID,
		SessionID:      sessionID,
		UserID:         userID,
		Transport:      transport,
		Status:         models.ConnectionStatusConnected,
		LastActivityAt: now,
		CreatedAt:      now,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owners []models.Connection
		err := tx.Select("session_id", "user_id").Where("connection_id = ?", connectionID).Limit(1).Find(&owners).Error
		if err != nil {
			return err
		}
		if len(owners) == 1 && (owners[0].SessionID != sessionID || owners[0].UserID != userID) {
			return fmt.Errorf("%w: connection id %s belongs to another participant", ErrInvalidInput, connectionID)
		}

		// a reconnect keeps the answered flag of the channel it replaces
		var prev models.Connection
		err = tx.Where("session_id = ? AND user_id = ? AND superseded = ? AND connection_id <> ?",
			sessionID, userID, false, connectionID).
			Order("created_at DESC").
			First(&prev).Error
		if err == nil {
			conn.HasAnsweredCurrentQuestion = prev.HasAnsweredCurrentQuestion
		}

		if err := tx.Model(&models.Connection{}).
			Where("session_id = ? AND user_id = ? AND connection_id <> ?", sessionID, userID, connectionID).
			Update("superseded", true).Error; err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"transport", "status", "superseded", "last_activity_at",
			}),
		}).Create(&conn).Error
	})
	if errors.Is(err, ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}

	log.Printf("registry: user %d connected to session %d via %s (%s)", userID, sessionID, transport, connectionID)
	return &conn, nil
}

// Heartbeat refreshes a connection's activity. A stale connection comes back
// to connected; a disconnected one must register again.
func (r *ConnectionRegistry) Heartbeat(ctx context.Context, sessionID, userID uint, connectionID string) (*HeartbeatResult, error) {
	now := r.now()
	var affected int64
	err := readRetry.do(ctx, func() error {
		res := r.db.WithContext(ctx).Model(&models.Connection{}).
			Where("connection_id = ? AND session_id = ? AND user_id = ? AND status <> ?",
				connectionID, sessionID, userID, models.ConnectionStatusDisconnected).
			Updates(map[string]interface{}{
				"last_activity_at": now,
				"status":           models.ConnectionStatusConnected,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("connection %s: %w", connectionID, ErrNotFound)
	}

	status, err := r.SessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &HeartbeatResult{ServerTimestamp: now, SessionStatus: status, ConnectionID: connectionID}, nil
}

// Touch is the best-effort variant of Heartbeat used by push loops.
func (r *ConnectionRegistry) Touch(ctx context.Context, sessionID, userID uint, connectionID string) {
	err := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("connection_id = ? AND session_id = ? AND user_id = ? AND status <> ?",
			connectionID, sessionID, userID, models.ConnectionStatusDisconnected).
		Updates(map[string]interface{}{
			"last_activity_at": r.now(),
			"status":           models.ConnectionStatusConnected,
		}).Error
	if err != nil {
		log.Printf("registry: touch %s: %v", connectionID, err)
	}
}

// MarkAnswered flags every live connection of the user for the question at
// questionIndex. Nothing changes once the session has moved past that
// question, so a late write cannot mark the next question answered.
// Idempotent; errors are logged and swallowed.
func (r *ConnectionRegistry) MarkAnswered(ctx context.Context, sessionID, userID uint, questionIndex int) {
	current := r.db.Model(&models.Session{}).Select("1").
		Where("id = ? AND current_question_index = ?", sessionID, questionIndex)

	err := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("session_id = ? AND user_id = ? AND status <> ?", sessionID, userID, models.ConnectionStatusDisconnected).
		Where("EXISTS (?)", current).
		Update("has_answered_current_question", true).Error
	if err != nil {
		log.Printf("registry: mark answered session=%d user=%d: %v", sessionID, userID, err)
	}
}

// clearAnswered runs inside the question-advance transaction.
func (r *ConnectionRegistry) clearAnswered(tx *gorm.DB, sessionID uint) error {
	return tx.Model(&models.Connection{}).
		Where("session_id = ? AND has_answered_current_question = ?", sessionID, true).
		Update("has_answered_current_question", false).Error
}

// disconnectAll runs inside the stop transaction.
func (r *ConnectionRegistry) disconnectAll(tx *gorm.DB, sessionID uint) error {
	return tx.Model(&models.Connection{}).
		Where("session_id = ? AND status <> ?", sessionID, models.ConnectionStatusDisconnected).
		Update("status", models.ConnectionStatusDisconnected).Error
}

// Disconnect ends one of the caller's own connections.
func (r *ConnectionRegistry) Disconnect(ctx context.Context, sessionID, userID uint, connectionID string) error {
	res := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("connection_id = ? AND session_id = ? AND user_id = ?", connectionID, sessionID, userID).
		Update("status", models.ConnectionStatusDisconnected)
	if res.Error != nil {
		return fmt.Errorf("disconnect %s: %w", connectionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection %s: %w", connectionID, ErrNotFound)
	}
	return nil
}

// SweepStale marks connections of one session stale once they have been idle
// longer than threshold.
func (r *ConnectionRegistry) SweepStale(ctx context.Context, sessionID uint, threshold time.Duration) (int64, error) {
	cutoff := r.now().Add(-threshold)
	res := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("session_id = ? AND status = ? AND last_activity_at < ?", sessionID, models.ConnectionStatusConnected, cutoff).
		Update("status", models.ConnectionStatusStale)
	return res.RowsAffected, res.Error
}

// SweepAllStale is the background variant across every session.
func (r *ConnectionRegistry) SweepAllStale(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := r.now().Add(-threshold)
	res := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("status = ? AND last_activity_at < ?", models.ConnectionStatusConnected, cutoff).
		Update("status", models.ConnectionStatusStale)
	return res.RowsAffected, res.Error
}

// GetStatistics sweeps first, then counts distinct users whose latest
// connection is live.
func (r *ConnectionRegistry) GetStatistics(ctx context.Context, sessionID uint) (ConnectionStats, error) {
	if _, err := r.SweepStale(ctx, sessionID, r.staleAfter); err != nil {
		log.Printf("registry: sweep session %d: %v", sessionID, err)
	}

	var stats ConnectionStats
	err := readRetry.do(ctx, func() error {
		var connected, answered int64
		live := r.db.WithContext(ctx).Model(&models.Connection{}).
			Where("session_id = ? AND status = ? AND superseded = ?", sessionID, models.ConnectionStatusConnected, false)

		if err := live.Session(&gorm.Session{}).Distinct("user_id").Count(&connected).Error; err != nil {
			return err
		}
		if err := live.Session(&gorm.Session{}).
			Where("has_answered_current_question = ?", true).
			Distinct("user_id").Count(&answered).Error; err != nil {
			return err
		}
		stats = ConnectionStats{Connected: int(connected), Answered: int(answered)}
		return nil
	})
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("connection statistics: %w", err)
	}
	stats.Pending = stats.Connected - stats.Answered
	if stats.Pending < 0 {
		stats.Pending = 0
	}
	return stats, nil
}

// ListStudents returns the authoritative (latest) connection of every user
// who has ever connected, live or not.
func (r *ConnectionRegistry) ListStudents(ctx context.Context, sessionID uint) ([]StudentPresence, error) {
	var conns []models.Connection
	err := readRetry.do(ctx, func() error {
		return r.db.WithContext(ctx).
			Where("session_id = ? AND superseded = ?", sessionID, false).
			Order("user_id ASC").
			Find(&conns).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	out := make([]StudentPresence, 0, len(conns))
	for _, c := range conns {
		out = append(out, StudentPresence{
			UserID:         c.UserID,
			ConnectionID:   c.ConnectionID,
			Transport:      c.Transport,
			Status:         c.Status,
			HasAnswered:    c.HasAnsweredCurrentQuestion,
			LastActivityAt: c.LastActivityAt,
		})
	}
	return out, nil
}

// SessionStatus is a cached lookup used on every heartbeat.
func (r *ConnectionRegistry) SessionStatus(ctx context.Context, sessionID uint) (string, error) {
	return r.statuses.GetOrLoad(sessionID, func() (string, error) {
		var sess models.Session
		err := readRetry.do(ctx, func() error {
			return r.db.WithContext(ctx).Select("id", "status").First(&sess, sessionID).Error
		})
		if err != nil {
			return "", notFound(err, "session", sessionID)
		}
		return sess.Status, nil
	})
}

func (r *ConnectionRegistry) InvalidateStatus(sessionID uint) {
	r.statuses.Invalidate(sessionID)
}

func (r *ConnectionRegistry) PurgeExpired() {
	r.statuses.Purge()
}
