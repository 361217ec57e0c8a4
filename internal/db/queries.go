package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAccount creates a new account.
func (db *DB) CreateAccount(account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.AuthType == "" {
		account.AuthType = AuthBasic
	}
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO accounts (
		id, name, base_url, username, password, auth_type, bearer_token,
		sync_interval, enabled, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		account.ID, account.Name, account.BaseURL, account.Username, account.Password,
		account.AuthType, account.BearerToken, account.SyncInterval, account.Enabled,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccountByID returns an account by its ID.
func (db *DB) GetAccountByID(id string) (*Account, error) {
	query := `SELECT id, name, base_url, username, password, auth_type, bearer_token,
		sync_interval, enabled, last_sync_at, created_at, updated_at
		FROM accounts WHERE id = ?`

	return scanAccount(db.conn.QueryRow(query, id))
}

// GetEnabledAccounts returns all enabled accounts.
func (db *DB) GetEnabledAccounts() ([]*Account, error) {
	return db.queryAccounts(`SELECT id, name, base_url, username, password, auth_type, bearer_token,
		sync_interval, enabled, last_sync_at, created_at, updated_at
		FROM accounts WHERE enabled = 1 ORDER BY name`)
}

// GetAccounts returns all accounts.
func (db *DB) GetAccounts() ([]*Account, error) {
	return db.queryAccounts(`SELECT id, name, base_url, username, password, auth_type, bearer_token,
		sync_interval, enabled, last_sync_at, created_at, updated_at
		FROM accounts ORDER BY name`)
}

func (db *DB) queryAccounts(query string, args ...any) ([]*Account, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateAccountSyncTime records the time of the last account-level sync.
func (db *DB) UpdateAccountSyncTime(id string, at time.Time) error {
	query := `UPDATE accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?`
	_, err := db.conn.Exec(query, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account sync time: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	account := &Account{}
	var lastSync sql.NullTime

	err := row.Scan(
		&account.ID, &account.Name, &account.BaseURL, &account.Username, &account.Password,
		&account.AuthType, &account.BearerToken, &account.SyncInterval, &account.Enabled,
		&lastSync, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if lastSync.Valid {
		account.LastSyncAt = &lastSync.Time
	}

	return account, nil
}

// CreateCollection creates a new collection.
func (db *DB) CreateCollection(col *Collection) error {
	if col.ID == "" {
		col.ID = uuid.New().String()
	}
	if col.GroupMethod == "" {
		col.GroupMethod = GroupMethodCategories
	}
	col.CreatedAt = time.Now().UTC()
	col.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO collections (
		id, account_id, type, url, display_name, ctag, sync_token,
		sync_enabled, force_read_only, group_method, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		col.ID, col.AccountID, col.Type, col.URL, col.DisplayName, col.CTag, col.SyncToken,
		col.SyncEnabled, col.ForceReadOnly, col.GroupMethod, col.CreatedAt, col.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// GetCollectionByID returns a collection by its ID.
func (db *DB) GetCollectionByID(id string) (*Collection, error) {
	query := collectionSelect + ` WHERE id = ?`
	return scanCollection(db.conn.QueryRow(query, id))
}

// GetCollectionsByAccount returns all collections for an account.
func (db *DB) GetCollectionsByAccount(accountID string) ([]*Collection, error) {
	query := collectionSelect + ` WHERE account_id = ? ORDER BY display_name`

	rows, err := db.conn.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var cols []*Collection
	for rows.Next() {
		col, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collections: %w", err)
	}

	return cols, nil
}

const collectionSelect = `SELECT id, account_id, type, url, display_name, ctag, sync_token,
	sync_enabled, force_read_only, group_method, last_synced_at, created_at, updated_at
	FROM collections`

func scanCollection(row rowScanner) (*Collection, error) {
	col := &Collection{}
	var lastSynced sql.NullTime

	err := row.Scan(
		&col.ID, &col.AccountID, &col.Type, &col.URL, &col.DisplayName, &col.CTag,
		&col.SyncToken, &col.SyncEnabled, &col.ForceReadOnly, &col.GroupMethod,
		&lastSynced, &col.CreatedAt, &col.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}

	if lastSynced.Valid {
		col.LastSyncedAt = &lastSynced.Time
	}

	return col, nil
}

// UpdateCollection persists mutable collection fields.
func (db *DB) UpdateCollection(col *Collection) error {
	col.UpdatedAt = time.Now().UTC()

	query := `UPDATE collections SET display_name = ?, ctag = ?, sync_token = ?,
		sync_enabled = ?, force_read_only = ?, group_method = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?`

	_, err := db.conn.Exec(query,
		col.DisplayName, col.CTag, col.SyncToken, col.SyncEnabled, col.ForceReadOnly,
		col.GroupMethod, nullableTime(col.LastSyncedAt), col.UpdatedAt, col.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}

	return nil
}

// UpdateCollectionSyncState persists the change tokens and last-synced timestamp
// after a sync pass. Empty tokens are stored as-is (meaning "unknown").
func (db *DB) UpdateCollectionSyncState(id, ctag, syncToken string, lastSyncedAt time.Time) error {
	query := `UPDATE collections SET ctag = ?, sync_token = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?`

	_, err := db.conn.Exec(query, ctag, syncToken, lastSyncedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update collection sync state: %w", err)
	}

	return nil
}

// InsertItem inserts a new item and assigns its ID.
func (db *DB) InsertItem(item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO items (
		id, collection_id, kind, url, uid, etag, dirty, deleted, summary,
		starts_at, ends_at, due_at, status, parent_uid, parent_id, data,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		item.ID, item.CollectionID, item.Kind, item.URL, item.UID, item.ETag,
		item.Dirty, item.Deleted, item.Summary,
		nullableTime(item.StartsAt), nullableTime(item.EndsAt), nullableTime(item.DueAt),
		item.Status, item.ParentUID, item.ParentID, item.Data,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	return nil
}

// UpdateItem updates an existing item by ID, preserving the row identity.
func (db *DB) UpdateItem(item *Item) error {
	item.UpdatedAt = time.Now().UTC()

	query := `UPDATE items SET kind = ?, url = ?, uid = ?, etag = ?, dirty = ?, deleted = ?,
		summary = ?, starts_at = ?, ends_at = ?, due_at = ?, status = ?,
		parent_uid = ?, parent_id = ?, data = ?, updated_at = ?
		WHERE id = ?`

	res, err := db.conn.Exec(query,
		item.Kind, item.URL, item.UID, item.ETag, item.Dirty, item.Deleted,
		item.Summary, nullableTime(item.StartsAt), nullableTime(item.EndsAt), nullableTime(item.DueAt),
		item.Status, item.ParentUID, item.ParentID, item.Data, item.UpdatedAt,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteItem hard-deletes an item row.
func (db *DB) DeleteItem(id string) error {
	_, err := db.conn.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

const itemSelect = `SELECT id, collection_id, kind, url, uid, etag, dirty, deleted, summary,
	starts_at, ends_at, due_at, status, parent_uid, parent_id, data, created_at, updated_at
	FROM items`

// GetItemByURL returns the item with the given resource URL within a collection.
func (db *DB) GetItemByURL(collectionID, url string) (*Item, error) {
	query := itemSelect + ` WHERE collection_id = ? AND url = ? AND url != ''`
	return scanItem(db.conn.QueryRow(query, collectionID, url))
}

// GetItemByUID returns the item with the given UID within a collection.
func (db *DB) GetItemByUID(collectionID, uid string) (*Item, error) {
	query := itemSelect + ` WHERE collection_id = ? AND uid = ?`
	return scanItem(db.conn.QueryRow(query, collectionID, uid))
}

// GetDirtyItems returns items with pending local mutations (dirty or tombstoned).
func (db *DB) GetDirtyItems(collectionID string) ([]*Item, error) {
	query := itemSelect + ` WHERE collection_id = ? AND (dirty = 1 OR deleted = 1) ORDER BY updated_at`
	return db.queryItems(query, collectionID)
}

// GetDeletedItems returns tombstoned items for a collection.
func (db *DB) GetDeletedItems(collectionID string) ([]*Item, error) {
	query := itemSelect + ` WHERE collection_id = ? AND deleted = 1 ORDER BY updated_at`
	return db.queryItems(query, collectionID)
}

// GetItemsByCollection returns all items of a collection.
func (db *DB) GetItemsByCollection(collectionID string) ([]*Item, error) {
	query := itemSelect + ` WHERE collection_id = ? ORDER BY uid`
	return db.queryItems(query, collectionID)
}

func (db *DB) queryItems(query string, args ...any) ([]*Item, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

func scanItem(row rowScanner) (*Item, error) {
	item := &Item{}
	var startsAt, endsAt, dueAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.CollectionID, &item.Kind, &item.URL, &item.UID, &item.ETag,
		&item.Dirty, &item.Deleted, &item.Summary,
		&startsAt, &endsAt, &dueAt, &item.Status,
		&item.ParentUID, &item.ParentID, &item.Data,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	if startsAt.Valid {
		item.StartsAt = &startsAt.Time
	}
	if endsAt.Valid {
		item.EndsAt = &endsAt.Time
	}
	if dueAt.Valid {
		item.DueAt = &dueAt.Time
	}

	return item, nil
}

// MarkItemClean clears the dirty flag after a confirmed upload.
func (db *DB) MarkItemClean(id string) error {
	_, err := db.conn.Exec(`UPDATE items SET dirty = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark item clean: %w", err)
	}
	return nil
}

// UpdateItemEtag stores a server-confirmed etag.
func (db *DB) UpdateItemEtag(id, etag string) error {
	_, err := db.conn.Exec(`UPDATE items SET etag = ?, updated_at = ? WHERE id = ?`,
		etag, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update item etag: %w", err)
	}
	return nil
}

// UpdateItemRemote stores the server-assigned URL and etag after an upload.
func (db *DB) UpdateItemRemote(id, url, etag string) error {
	_, err := db.conn.Exec(`UPDATE items SET url = ?, etag = ?, updated_at = ? WHERE id = ?`,
		url, etag, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update item remote state: %w", err)
	}
	return nil
}

// SetItemParent records the resolved local parent for a subtask.
func (db *DB) SetItemParent(id, parentID string) error {
	_, err := db.conn.Exec(`UPDATE items SET parent_id = ?, updated_at = ? WHERE id = ?`,
		parentID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set item parent: %w", err)
	}
	return nil
}

// CreateSyncLog records the outcome of an account-level sync.
func (db *DB) CreateSyncLog(entry *SyncLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (
		id, account_id, status, message, details, downloaded, uploaded, deleted,
		error_count, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		entry.ID, entry.AccountID, entry.Status, entry.Message, entry.Details,
		entry.Downloaded, entry.Uploaded, entry.Deleted, entry.ErrorCount,
		entry.Duration.Milliseconds(), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

// GetRecentSyncLogs returns the most recent sync logs for an account.
func (db *DB) GetRecentSyncLogs(accountID string, limit int) ([]*SyncLog, error) {
	query := `SELECT id, account_id, status, message, details, downloaded, uploaded, deleted,
		error_count, duration_ms, created_at
		FROM sync_logs WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		entry := &SyncLog{}
		var durationMs int64
		err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.Status, &entry.Message, &entry.Details,
			&entry.Downloaded, &entry.Uploaded, &entry.Deleted, &entry.ErrorCount,
			&durationMs, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}

// CleanOldSyncLogs deletes sync logs older than the cutoff time.
func (db *DB) CleanOldSyncLogs(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM sync_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean sync logs: %w", err)
	}
	return res.RowsAffected()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
