package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/davsync/davsync/internal/db"
)

type fakeAccounts struct {
	mu       gosync.Mutex
	accounts map[string]*db.Account
	logs     []*db.SyncLog
}

func newFakeAccounts(accounts ...*db.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*db.Account)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetAccountByID(id string) (*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccounts) GetEnabledAccounts() ([]*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.Account
	for _, a := range f.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) UpdateAccountSyncTime(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.accounts[id]; ok {
		account.LastSyncAt = &at
	}
	return nil
}

func (f *fakeAccounts) CreateSyncLog(entry *db.SyncLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeAccounts) syncLogs() []*db.SyncLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*db.SyncLog, len(f.logs))
	copy(out, f.logs)
	return out
}

type fakeNotifier struct {
	mu    gosync.Mutex
	calls []string
}

func (n *fakeNotifier) AuthFailure(accountID, accountName, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, accountID)
}

func localOnlySetup(t *testing.T, collections int) (*Orchestrator, *fakeAccounts, *fakeCols) {
	t.Helper()

	account := &db.Account{ID: "acc-1", Name: "Test", Enabled: true}
	accounts := newFakeAccounts(account)

	var cols []*db.Collection
	for i := 0; i < collections; i++ {
		cols = append(cols, &db.Collection{
			ID:          string(rune('a' + i)),
			AccountID:   "acc-1",
			Type:        db.CollectionLocal,
			SyncEnabled: true,
		})
	}
	colStore := newFakeCols(cols...)

	factory := func(account *db.Account) (*Engine, error) {
		return NewEngine(newFakeItems(), colStore, newFakeTransport("https://s", nil), &fakeMirror{}, EngineConfig{}), nil
	}

	return NewOrchestrator(accounts, colStore, factory, nil, &fakeNotifier{}), accounts, colStore
}

func TestSyncAccountWritesSyncLog(t *testing.T) {
	o, accounts, _ := localOnlySetup(t, 2)

	out, err := o.SyncAccount(context.Background(), "acc-1", ModeFull)
	if err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}
	if len(out.Errors) != 0 {
		t.Errorf("errors: %v", out.Errors)
	}

	logs := accounts.syncLogs()
	if len(logs) != 1 {
		t.Fatalf("sync logs = %d, want 1", len(logs))
	}
	if logs[0].Status != db.SyncStatusSuccess {
		t.Errorf("status = %q, want success", logs[0].Status)
	}

	account, _ := accounts.GetAccountByID("acc-1")
	if account.LastSyncAt == nil {
		t.Error("account sync time must be bumped")
	}
}

func TestSyncAccountUnknownAccount(t *testing.T) {
	o, _, _ := localOnlySetup(t, 0)
	if _, err := o.SyncAccount(context.Background(), "missing", ModeFull); err == nil {
		t.Error("expected an error for an unknown account")
	}
}

func TestSyncAccountSerializesPerAccount(t *testing.T) {
	account := &db.Account{ID: "acc-1", Name: "Test", Enabled: true}
	accounts := newFakeAccounts(account)
	colStore := newFakeCols(&db.Collection{ID: "c1", AccountID: "acc-1", Type: db.CollectionLocal, SyncEnabled: true})

	var running int32
	var maxConcurrent int32
	var mu gosync.Mutex

	factory := func(account *db.Account) (*Engine, error) {
		mu.Lock()
		running++
		if running > maxConcurrent {
			maxConcurrent = running
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()

		return NewEngine(newFakeItems(), colStore, newFakeTransport("https://s", nil), &fakeMirror{}, EngineConfig{}), nil
	}

	o := NewOrchestrator(accounts, colStore, factory, nil, nil)

	var wg gosync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.SyncAccount(context.Background(), "acc-1", ModeFull); err != nil {
				t.Errorf("SyncAccount: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent != 1 {
		t.Errorf("max concurrent passes = %d, passes over one account must serialize", maxConcurrent)
	}
}

func TestIsSyncingDuringPass(t *testing.T) {
	account := &db.Account{ID: "acc-1", Name: "Test", Enabled: true}
	accounts := newFakeAccounts(account)
	colStore := newFakeCols()

	started := make(chan struct{})
	release := make(chan struct{})

	factory := func(account *db.Account) (*Engine, error) {
		close(started)
		<-release
		return NewEngine(newFakeItems(), colStore, newFakeTransport("https://s", nil), &fakeMirror{}, EngineConfig{}), nil
	}

	o := NewOrchestrator(accounts, colStore, factory, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.SyncAccount(context.Background(), "acc-1", ModeFull)
	}()

	<-started
	if !o.IsSyncing("acc-1") {
		t.Error("IsSyncing must report true while a pass runs")
	}
	close(release)
	<-done

	if o.IsSyncing("acc-1") {
		t.Error("IsSyncing must report false after the pass")
	}
}

func TestSyncAllAggregatesAccounts(t *testing.T) {
	a1 := &db.Account{ID: "acc-1", Name: "One", Enabled: true}
	a2 := &db.Account{ID: "acc-2", Name: "Two", Enabled: true}
	disabled := &db.Account{ID: "acc-3", Name: "Off", Enabled: false}
	accounts := newFakeAccounts(a1, a2, disabled)

	colStore := newFakeCols(
		&db.Collection{ID: "c1", AccountID: "acc-1", Type: db.CollectionLocal, SyncEnabled: true},
		&db.Collection{ID: "c2", AccountID: "acc-2", Type: db.CollectionLocal, SyncEnabled: true},
	)

	synced := make(map[string]bool)
	var mu gosync.Mutex
	factory := func(account *db.Account) (*Engine, error) {
		mu.Lock()
		synced[account.ID] = true
		mu.Unlock()
		return NewEngine(newFakeItems(), colStore, newFakeTransport("https://s", nil), &fakeMirror{}, EngineConfig{}), nil
	}

	o := NewOrchestrator(accounts, colStore, factory, nil, nil)
	if _, err := o.SyncAll(context.Background(), ModeFull); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !synced["acc-1"] || !synced["acc-2"] {
		t.Errorf("enabled accounts not all synced: %v", synced)
	}
	if synced["acc-3"] {
		t.Error("disabled account must not sync")
	}
}
