package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/davsync/davsync/internal/db"
)

// ActivityTracker receives live progress events for the web API.
type ActivityTracker interface {
	SyncStarted(accountID, accountName string, collections int)
	SyncFinished(accountID string, status db.SyncStatus, out *Outcome, duration time.Duration)
}

// Notifier is alerted about failures that need user attention.
type Notifier interface {
	AuthFailure(accountID, accountName, message string)
}

// EngineFactory builds a sync engine bound to one account's transport. The
// factory decrypts credentials and constructs the WebDAV client.
type EngineFactory func(account *db.Account) (*Engine, error)

// Orchestrator serializes sync passes per account and fans collections out in
// parallel within a pass. Collections of one account never contend with each
// other on remote state, but two passes over the same account would, so the
// per-account lock blocks the second caller until the first pass finishes.
type Orchestrator struct {
	accounts  AccountStore
	cols      CollectionStore
	newEngine EngineFactory
	tracker   ActivityTracker
	notifier  Notifier

	mu      gosync.Mutex
	locks   map[string]*gosync.Mutex
	syncing map[string]bool
}

// NewOrchestrator creates an orchestrator. Tracker and notifier may be nil.
func NewOrchestrator(accounts AccountStore, cols CollectionStore, factory EngineFactory, tracker ActivityTracker, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		cols:      cols,
		newEngine: factory,
		tracker:   tracker,
		notifier:  notifier,
		locks:     make(map[string]*gosync.Mutex),
		syncing:   make(map[string]bool),
	}
}

// IsSyncing reports whether a sync pass is currently running for the account.
func (o *Orchestrator) IsSyncing(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing[accountID]
}

func (o *Orchestrator) lockFor(accountID string) *gosync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[accountID]
	if !ok {
		lock = &gosync.Mutex{}
		o.locks[accountID] = lock
	}
	return lock
}

func (o *Orchestrator) setSyncing(accountID string, v bool) {
	o.mu.Lock()
	o.syncing[accountID] = v
	o.mu.Unlock()
}

// SyncAccount runs one sync pass over all sync-enabled collections of an
// account. A pass already in flight for the same account blocks this call
// until it completes; passes over different accounts run independently.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string, mode Mode) (*Outcome, error) {
	lock := o.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	o.setSyncing(accountID, true)
	defer o.setSyncing(accountID, false)

	account, err := o.accounts.GetAccountByID(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	engine, err := o.newEngine(account)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync engine for %s: %w", account.Name, err)
	}

	collections, err := o.cols.GetCollectionsByAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}

	var enabled []*db.Collection
	for _, col := range collections {
		if col.SyncEnabled {
			enabled = append(enabled, col)
		}
	}

	started := time.Now()
	if o.tracker != nil {
		o.tracker.SyncStarted(accountID, account.Name, len(enabled))
	}

	total := &Outcome{}
	var wg gosync.WaitGroup
	var outMu gosync.Mutex

	for _, col := range enabled {
		wg.Add(1)
		go func(col *db.Collection) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outMu.Lock()
					total.Errors = append(total.Errors, fmt.Sprintf("collection %s: panic: %v", col.ID, r))
					outMu.Unlock()
					log.Printf("Recovered from panic syncing collection %s: %v", col.ID, r)
				}
			}()

			out := engine.SyncCollection(ctx, col, mode)

			outMu.Lock()
			total.Merge(out)
			outMu.Unlock()
		}(col)
	}
	wg.Wait()

	duration := time.Since(started)
	status := o.finishAccount(accountID, account, total, duration)

	if o.tracker != nil {
		o.tracker.SyncFinished(accountID, status, total, duration)
	}

	return total, nil
}

// SyncAll runs a sync pass over every enabled account, sequentially. The
// scheduler triggers accounts on their own intervals; this is the manual
// sync-everything entry point.
func (o *Orchestrator) SyncAll(ctx context.Context, mode Mode) (*Outcome, error) {
	accounts, err := o.accounts.GetEnabledAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	total := &Outcome{}
	for _, account := range accounts {
		out, err := o.SyncAccount(ctx, account.ID, mode)
		if err != nil {
			total.Errors = append(total.Errors, fmt.Sprintf("account %s: %v", account.Name, err))
			continue
		}
		total.Merge(out)
	}
	return total, nil
}

// finishAccount records the pass in the sync log, bumps the account timestamp
// and fires the auth-failure notification when credentials were rejected.
func (o *Orchestrator) finishAccount(accountID string, account *db.Account, total *Outcome, duration time.Duration) db.SyncStatus {
	status := db.SyncStatusSuccess
	message := "Sync completed"
	switch {
	case len(total.Errors) > 0 && total.Downloaded == 0 && total.Uploaded == 0 && total.Deleted == 0:
		status = db.SyncStatusError
		message = "Sync failed"
	case len(total.Errors) > 0:
		status = db.SyncStatusPartial
		message = "Sync completed with errors"
	}

	details := ""
	if len(total.Errors) > 0 {
		details = total.Errors[0]
		if len(total.Errors) > 1 {
			details = fmt.Sprintf("%s (and %d more)", details, len(total.Errors)-1)
		}
	}

	entry := &db.SyncLog{
		AccountID:  accountID,
		Status:     status,
		Message:    message,
		Details:    details,
		Downloaded: total.Downloaded,
		Uploaded:   total.Uploaded,
		Deleted:    total.Deleted,
		ErrorCount: len(total.Errors),
		Duration:   duration,
	}
	if err := o.accounts.CreateSyncLog(entry); err != nil {
		log.Printf("Failed to write sync log for %s: %v", account.Name, err)
	}

	if err := o.accounts.UpdateAccountSyncTime(accountID, time.Now()); err != nil {
		log.Printf("Failed to update account sync time for %s: %v", account.Name, err)
	}

	if total.AuthFailed && o.notifier != nil {
		o.notifier.AuthFailure(accountID, account.Name, "Server rejected the stored credentials")
	}

	return status
}
