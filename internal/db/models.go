package db

import (
	"time"
)

// SyncStatus represents the status of a sync operation.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial" // Sync completed with some per-collection errors
	SyncStatusError   SyncStatus = "error"   // Sync failed entirely
)

// AuthType represents how the client authenticates against the server.
type AuthType string

const (
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer" // OAuth2 access token (e.g. Google CalDAV)
)

// CollectionType represents the kind of remote collection.
type CollectionType string

const (
	CollectionCalendar    CollectionType = "calendar"
	CollectionAddressBook CollectionType = "addressbook"
	CollectionTaskList    CollectionType = "tasklist"
	// CollectionLocal is an offline collection with no remote counterpart.
	// Syncing it only bumps the last-synced timestamp.
	CollectionLocal CollectionType = "local"
)

// ValidCollectionTypes contains all valid collection type values.
var ValidCollectionTypes = map[CollectionType]bool{
	CollectionCalendar:    true,
	CollectionAddressBook: true,
	CollectionTaskList:    true,
	CollectionLocal:       true,
}

// IsValid returns true if the collection type is a known valid value.
func (ct CollectionType) IsValid() bool {
	return ValidCollectionTypes[ct]
}

// GroupMethod selects how contact groups are represented in an address book.
type GroupMethod string

const (
	// GroupMethodCategories embeds group membership as CATEGORIES on each contact.
	GroupMethodCategories GroupMethod = "categories"
	// GroupMethodVCards keeps a separate KIND:group vCard with MEMBER references.
	GroupMethodVCards GroupMethod = "vcard-groups"
)

// ItemKind represents the kind of a synced item.
type ItemKind string

const (
	KindEvent   ItemKind = "event"
	KindContact ItemKind = "contact"
	KindTask    ItemKind = "task"
)

// Account represents a CalDAV/CardDAV account.
type Account struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	BaseURL      string     `json:"base_url"`
	Username     string     `json:"username"`
	Password     string     `json:"-"` // Encrypted at rest; never include in JSON
	AuthType     AuthType   `json:"auth_type"`
	BearerToken  string     `json:"-"` // Encrypted at rest; never include in JSON
	SyncInterval int        `json:"sync_interval"`
	Enabled      bool       `json:"enabled"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Collection represents a remote calendar, address book or task list.
type Collection struct {
	ID            string         `json:"id"`
	AccountID     string         `json:"account_id"`
	Type          CollectionType `json:"type"`
	URL           string         `json:"url"` // Absolute collection URL
	DisplayName   string         `json:"display_name"`
	CTag          string         `json:"ctag"`       // Empty = unknown, forces full listing
	SyncToken     string         `json:"sync_token"` // Empty = no incremental cursor
	SyncEnabled   bool           `json:"sync_enabled"`
	ForceReadOnly bool           `json:"force_read_only"`
	GroupMethod   GroupMethod    `json:"group_method"`
	LastSyncedAt  *time.Time     `json:"last_synced_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Item represents a single synced resource (event, contact or task).
//
// URL is empty until the item has been uploaded once. ETag changes only as a
// result of a confirmed server response. Dirty marks a pending upload and
// Deleted a tombstone pending remote deletion.
type Item struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Kind         ItemKind  `json:"kind"`
	URL          string    `json:"url"`
	UID          string    `json:"uid"`
	ETag         string    `json:"etag"`
	Dirty        bool      `json:"dirty"`
	Deleted      bool      `json:"deleted"`
	Summary      string    `json:"summary"`
	StartsAt     *time.Time `json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at"`
	DueAt        *time.Time `json:"due_at"`
	Status       string    `json:"status"`
	ParentUID    string    `json:"parent_uid"` // Raw RELATED-TO reference, resolved post-download
	ParentID     string    `json:"parent_id"`  // Resolved local parent, empty if orphaned
	Data         string    `json:"data"`       // Raw wire payload
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncLog represents a log entry for an account-level sync operation.
type SyncLog struct {
	ID         string        `json:"id"`
	AccountID  string        `json:"account_id"`
	Status     SyncStatus    `json:"status"`
	Message    string        `json:"message"`
	Details    string        `json:"details"`
	Downloaded int           `json:"downloaded"`
	Uploaded   int           `json:"uploaded"`
	Deleted    int           `json:"deleted"`
	ErrorCount int           `json:"error_count"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}
