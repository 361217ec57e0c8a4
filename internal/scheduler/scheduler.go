// Package scheduler drives periodic sync passes, one timer loop per enabled
// account, plus housekeeping of old sync logs.
package scheduler

import (
	"context"
	"log"
	gosync "sync"
	"time"

	"github.com/davsync/davsync/internal/db"
	engine "github.com/davsync/davsync/internal/sync"
)

const (
	logRetention    = 30 * 24 * time.Hour
	cleanupInterval = 24 * time.Hour
)

// Syncer runs sync passes. *sync.Orchestrator satisfies it.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID string, mode engine.Mode) (*engine.Outcome, error)
	IsSyncing(accountID string) bool
}

// Store provides the accounts to schedule and log housekeeping.
type Store interface {
	GetEnabledAccounts() ([]*db.Account, error)
	CleanOldSyncLogs(cutoff time.Time) (int64, error)
}

// Scheduler owns one goroutine per scheduled account. Account intervals are
// clamped to the configured bounds; interval changes are picked up by Reload.
type Scheduler struct {
	syncer      Syncer
	store       Store
	minInterval time.Duration
	maxInterval time.Duration

	mu      gosync.Mutex
	cancels map[string]context.CancelFunc
	wg      gosync.WaitGroup
	ctx     context.Context
	stop    context.CancelFunc
}

// New creates a scheduler. Intervals are in seconds, matching configuration.
func New(syncer Syncer, store Store, minIntervalSec, maxIntervalSec int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		syncer:      syncer,
		store:       store,
		minInterval: time.Duration(minIntervalSec) * time.Second,
		maxInterval: time.Duration(maxIntervalSec) * time.Second,
		cancels:     make(map[string]context.CancelFunc),
		ctx:         ctx,
		stop:        cancel,
	}
}

// Start schedules all enabled accounts and begins log housekeeping.
func (s *Scheduler) Start() error {
	if err := s.Reload(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return nil
}

// Reload re-reads the enabled accounts and reconciles the running timer
// loops: new accounts are scheduled, removed or disabled ones stopped.
func (s *Scheduler) Reload() error {
	accounts, err := s.store.GetEnabledAccounts()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		wanted[account.ID] = true
		if _, running := s.cancels[account.ID]; running {
			continue
		}

		ctx, cancel := context.WithCancel(s.ctx)
		s.cancels[account.ID] = cancel
		s.wg.Add(1)
		go s.accountLoop(ctx, account.ID, account.Name, s.clamp(account.SyncInterval))
	}

	for id, cancel := range s.cancels {
		if !wanted[id] {
			cancel()
			delete(s.cancels, id)
		}
	}

	return nil
}

// Stop cancels all loops and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	s.stop()
	s.wg.Wait()
}

// TriggerSync runs an immediate sync pass outside the timer, unless one is
// already in flight for the account.
func (s *Scheduler) TriggerSync(ctx context.Context, accountID string, mode engine.Mode) (*engine.Outcome, error) {
	return s.syncer.SyncAccount(ctx, accountID, mode)
}

func (s *Scheduler) clamp(intervalSec int) time.Duration {
	interval := time.Duration(intervalSec) * time.Second
	if interval < s.minInterval {
		interval = s.minInterval
	}
	if interval > s.maxInterval {
		interval = s.maxInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return interval
}

func (s *Scheduler) accountLoop(ctx context.Context, accountID, name string, interval time.Duration) {
	defer s.wg.Done()

	log.Printf("Scheduling account %s every %s", name, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.syncer.IsSyncing(accountID) {
				log.Printf("Skipping scheduled sync for %s, previous pass still running", name)
				continue
			}
			if _, err := s.syncer.SyncAccount(ctx, accountID, engine.ModeFull); err != nil {
				log.Printf("Scheduled sync for %s failed: %v", name, err)
			}
		}
	}
}

func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.store.CleanOldSyncLogs(time.Now().Add(-logRetention))
			if err != nil {
				log.Printf("Sync log cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Removed %d old sync log entries", removed)
			}
		}
	}
}
