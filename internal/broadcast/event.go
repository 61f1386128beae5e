// Package broadcast delivers session state to clients over a long-lived push
// stream or a poll endpoint. Both transports build frames through Builder, so
// a client sees the same payload whichever one it uses.
package broadcast

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	EventConnected         = "connected"
	EventQuestionBroadcast = "question_broadcast"
	EventSessionPaused     = "session_paused"
	EventSessionResumed    = "session_resumed"
	EventSessionCompleted  = "session_completed"
	EventStatsUpdate       = "stats_update"
	EventStudentsUpdate    = "students_update"
	EventKeepalive         = "keepalive"
	EventReconnect         = "reconnect"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Hash string      `json:"hash,omitempty"`
}

type ConnectedData struct {
	SessionID       uint      `json:"session_id"`
	UserID          uint      `json:"user_id"`
	ConnectionID    string    `json:"connection_id,omitempty"`
	Instructor      bool      `json:"instructor"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

type KeepaliveData struct {
	ServerTimestamp time.Time `json:"server_timestamp"`
}

type ReconnectData struct {
	Reason string `json:"reason"`
}

// contentHash is the change detector for periodic instructor frames.
func contentHash(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
