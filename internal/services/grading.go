package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// GradeSyncer receives the final tallies of a completed session. The engine's
// responsibility ends once it has handed them over.
type GradeSyncer interface {
	SyncGrades(ctx context.Context, sessionID uint, tallies []GradeTally) error
}

// LogGradeSyncer is used when no gradebook endpoint is configured.
type LogGradeSyncer struct{}

func (LogGradeSyncer) SyncGrades(_ context.Context, sessionID uint, tallies []GradeTally) error {
	for _, t := range tallies {
		log.Printf("grades: session=%d user=%d correct=%d/%d score=%.2f", sessionID, t.UserID, t.Correct, t.TotalQuestions, t.Score)
	}
	return nil
}

// WebhookGradeSyncer POSTs tallies as JSON to the host platform.
type WebhookGradeSyncer struct {
	URL    string
	Client *http.Client
}

func NewWebhookGradeSyncer(url string, timeout time.Duration) *WebhookGradeSyncer {
	return &WebhookGradeSyncer{URL: url, Client: &http.Client{Timeout: timeout}}
}

type gradeSyncPayload struct {
	SessionID uint         `json:"session_id"`
	Tallies   []GradeTally `json:"tallies"`
}

func (w *WebhookGradeSyncer) SyncGrades(ctx context.Context, sessionID uint, tallies []GradeTally) error {
	body, err := json.Marshal(gradeSyncPayload{SessionID: sessionID, Tallies: tallies})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("grade sync: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("grade sync: unexpected status %d", resp.StatusCode)
	}
	return nil
}
