// Package notify delivers alert webhooks for failures that need user
// attention, with a per-key cooldown so a flapping account does not flood the
// endpoint.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/davsync/davsync/internal/config"
)

// Notifier posts JSON alerts to a configured webhook. Safe for concurrent use.
// A disabled or unconfigured notifier silently drops alerts.
type Notifier struct {
	cfg        config.AlertConfig
	httpClient *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// New creates a Notifier from alert configuration.
func New(cfg config.AlertConfig) *Notifier {
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}
}

type alertPayload struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Account   string    `json:"account,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthFailure alerts that a server rejected an account's credentials.
func (n *Notifier) AuthFailure(accountID, accountName, message string) {
	n.send("auth_failure:"+accountID, alertPayload{
		Type:      "auth_failure",
		AccountID: accountID,
		Account:   accountName,
		Message:   message,
	})
}

// SyncFailure alerts that an account sync pass failed entirely.
func (n *Notifier) SyncFailure(accountID, accountName, message string) {
	n.send("sync_failure:"+accountID, alertPayload{
		Type:      "sync_failure",
		AccountID: accountID,
		Account:   accountName,
		Message:   message,
	})
}

func (n *Notifier) send(key string, payload alertPayload) {
	if !n.cfg.WebhookEnabled || n.cfg.WebhookURL == "" {
		return
	}
	if !n.shouldSend(key) {
		return
	}

	payload.Timestamp = n.now().UTC()
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal alert payload: %v", err)
		return
	}

	resp, err := n.httpClient.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("Failed to deliver %s alert: %v", payload.Type, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("Alert webhook returned status %d for %s", resp.StatusCode, payload.Type)
	}
}

// shouldSend enforces the cooldown per alert key.
func (n *Notifier) shouldSend(key string) bool {
	cooldown := time.Duration(n.cfg.CooldownMinutes) * time.Minute

	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastSent[key]; ok && n.now().Sub(last) < cooldown {
		return false
	}
	n.lastSent[key] = n.now()
	return true
}
