// Package activity keeps an in-memory view of running and recently finished
// sync passes for the web API. Nothing here is persisted; the sync_logs table
// is the durable record.
package activity

import (
	"sync"
	"time"

	"github.com/davsync/davsync/internal/db"
	engine "github.com/davsync/davsync/internal/sync"
)

const recentLimit = 50

// Entry describes one sync pass, running or finished.
type Entry struct {
	AccountID   string        `json:"account_id"`
	AccountName string        `json:"account_name"`
	Collections int           `json:"collections"`
	Status      db.SyncStatus `json:"status"`
	Downloaded  int           `json:"downloaded"`
	Uploaded    int           `json:"uploaded"`
	Deleted     int           `json:"deleted"`
	ErrorCount  int           `json:"error_count"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Tracker records sync activity. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*Entry
	recent []*Entry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*Entry)}
}

// SyncStarted records the start of an account sync pass.
func (t *Tracker) SyncStarted(accountID, accountName string, collections int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[accountID] = &Entry{
		AccountID:   accountID,
		AccountName: accountName,
		Collections: collections,
		Status:      db.SyncStatusRunning,
		StartedAt:   time.Now(),
	}
}

// SyncFinished moves a pass from active to the recent list.
func (t *Tracker) SyncFinished(accountID string, status db.SyncStatus, out *engine.Outcome, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.active[accountID]
	if !ok {
		entry = &Entry{AccountID: accountID, StartedAt: time.Now().Add(-duration)}
	}
	delete(t.active, accountID)

	now := time.Now()
	entry.Status = status
	entry.Downloaded = out.Downloaded
	entry.Uploaded = out.Uploaded
	entry.Deleted = out.Deleted
	entry.ErrorCount = len(out.Errors)
	entry.FinishedAt = &now
	entry.Duration = duration

	// Newest first, capped.
	t.recent = append([]*Entry{entry}, t.recent...)
	if len(t.recent) > recentLimit {
		t.recent = t.recent[:recentLimit]
	}
}

// Active returns the currently running passes.
func (t *Tracker) Active() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]*Entry, 0, len(t.active))
	for _, e := range t.active {
		copied := *e
		entries = append(entries, &copied)
	}
	return entries
}

// Recent returns finished passes, newest first.
func (t *Tracker) Recent() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([]*Entry, len(t.recent))
	for i, e := range t.recent {
		copied := *e
		entries[i] = &copied
	}
	return entries
}
