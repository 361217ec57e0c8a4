// Package sync implements the reconciliation core: per-collection sync
// strategy selection, upload/delete reconciliation, missing-remote-resource
// resolution and the per-account orchestration around them.
package sync

import (
	"context"
	"time"

	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
)

// ItemStore is the repository contract the engine needs for items.
// *db.DB satisfies it; tests use in-memory fakes.
type ItemStore interface {
	InsertItem(item *db.Item) error
	UpdateItem(item *db.Item) error
	DeleteItem(id string) error
	GetItemByURL(collectionID, url string) (*db.Item, error)
	GetItemByUID(collectionID, uid string) (*db.Item, error)
	GetDirtyItems(collectionID string) ([]*db.Item, error)
	GetItemsByCollection(collectionID string) ([]*db.Item, error)
	MarkItemClean(id string) error
	UpdateItemEtag(id, etag string) error
	UpdateItemRemote(id, url, etag string) error
	SetItemParent(id, parentID string) error
}

// CollectionStore persists collection sync state.
type CollectionStore interface {
	GetCollectionsByAccount(accountID string) ([]*db.Collection, error)
	UpdateCollectionSyncState(id, ctag, syncToken string, lastSyncedAt time.Time) error
}

// AccountStore provides account records and account-level sync bookkeeping.
type AccountStore interface {
	GetAccountByID(id string) (*db.Account, error)
	GetEnabledAccounts() ([]*db.Account, error)
	UpdateAccountSyncTime(id string, at time.Time) error
	CreateSyncLog(entry *db.SyncLog) error
}

// Transport issues WebDAV requests. *dav.Client satisfies it.
type Transport interface {
	Propfind(ctx context.Context, url string, depth int, body string) (*dav.Response, error)
	Report(ctx context.Context, url string, body string) (*dav.Response, error)
	Get(ctx context.Context, url string) (*dav.Response, error)
	Put(ctx context.Context, url string, body []byte, contentType, ifMatch string) (*dav.Response, error)
	Delete(ctx context.Context, url string, ifMatch string) (*dav.Response, error)
	BaseURL() string
}

// Mode selects how much of a sync pass runs.
type Mode int

const (
	// ModeFull runs download reconciliation plus upload reconciliation.
	ModeFull Mode = iota
	// ModePush only propagates local mutations; no download round-trip.
	ModePush
)

// Outcome aggregates the result of one or more collection sync passes.
type Outcome struct {
	Downloaded int      `json:"downloaded"`
	Uploaded   int      `json:"uploaded"`
	Deleted    int      `json:"deleted"`
	Errors     []string `json:"errors,omitempty"`
	AuthFailed bool     `json:"auth_failed,omitempty"`
}

// Merge folds another outcome into this one.
func (o *Outcome) Merge(other *Outcome) {
	o.Downloaded += other.Downloaded
	o.Uploaded += other.Uploaded
	o.Deleted += other.Deleted
	o.Errors = append(o.Errors, other.Errors...)
	o.AuthFailed = o.AuthFailed || other.AuthFailed
}
