package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/davsync/davsync/internal/codec"
	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
)

// fakeItems is an in-memory ItemStore. A non-nil uidErr makes every
// GetItemByUID call fail with it, for store-failure tests.
type fakeItems struct {
	mu     gosync.Mutex
	items  map[string]*db.Item
	next   int
	uidErr error
}

func newFakeItems() *fakeItems {
	return &fakeItems{items: make(map[string]*db.Item)}
}

func (f *fakeItems) add(item *db.Item) *db.Item {
	_ = f.InsertItem(item)
	return item
}

func (f *fakeItems) InsertItem(item *db.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == "" {
		f.next++
		item.ID = fmt.Sprintf("item-%d", f.next)
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeItems) UpdateItem(item *db.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; !ok {
		return db.ErrNotFound
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeItems) DeleteItem(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return db.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeItems) GetItemByURL(collectionID, url string) (*db.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.CollectionID == collectionID && item.URL != "" && item.URL == url {
			return item, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeItems) GetItemByUID(collectionID, uid string) (*db.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uidErr != nil {
		return nil, f.uidErr
	}
	for _, item := range f.items {
		if item.CollectionID == collectionID && item.UID == uid {
			return item, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeItems) GetDirtyItems(collectionID string) ([]*db.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var dirty []*db.Item
	for _, item := range f.items {
		if item.CollectionID == collectionID && (item.Dirty || item.Deleted) {
			dirty = append(dirty, item)
		}
	}
	return dirty, nil
}

func (f *fakeItems) GetItemsByCollection(collectionID string) ([]*db.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []*db.Item
	for _, item := range f.items {
		if item.CollectionID == collectionID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeItems) MarkItemClean(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return db.ErrNotFound
	}
	item.Dirty = false
	return nil
}

func (f *fakeItems) UpdateItemEtag(id, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return db.ErrNotFound
	}
	item.ETag = etag
	return nil
}

func (f *fakeItems) UpdateItemRemote(id, url, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return db.ErrNotFound
	}
	item.URL = url
	item.ETag = etag
	return nil
}

func (f *fakeItems) SetItemParent(id, parentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return db.ErrNotFound
	}
	item.ParentID = parentID
	return nil
}

func (f *fakeItems) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// fakeCols is an in-memory CollectionStore.
type fakeCols struct {
	mu   gosync.Mutex
	cols map[string]*db.Collection
}

func newFakeCols(cols ...*db.Collection) *fakeCols {
	f := &fakeCols{cols: make(map[string]*db.Collection)}
	for _, col := range cols {
		f.cols[col.ID] = col
	}
	return f
}

func (f *fakeCols) GetCollectionsByAccount(accountID string) ([]*db.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.Collection
	for _, col := range f.cols {
		if col.AccountID == accountID {
			out = append(out, col)
		}
	}
	return out, nil
}

func (f *fakeCols) UpdateCollectionSyncState(id, ctag, syncToken string, lastSyncedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.cols[id]
	if !ok {
		return db.ErrNotFound
	}
	col.CTag = ctag
	col.SyncToken = syncToken
	at := lastSyncedAt
	col.LastSyncedAt = &at
	return nil
}

// fakeTransport scripts WebDAV responses by request shape and records every
// call for assertions.
type davCall struct {
	Method string
	URL    string
	Body   string
	Header string // If-Match or Depth, whichever the method carries
}

type fakeTransport struct {
	mu      gosync.Mutex
	base    string
	handler func(c davCall) *dav.Response
	calls   []davCall
}

func newFakeTransport(base string, handler func(c davCall) *dav.Response) *fakeTransport {
	return &fakeTransport{base: base, handler: handler}
}

func (f *fakeTransport) do(c davCall) (*dav.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return &dav.Response{StatusCode: 500}, nil
	}
	resp := handler(c)
	if resp == nil {
		return &dav.Response{StatusCode: 404}, nil
	}
	return resp, nil
}

func (f *fakeTransport) Propfind(ctx context.Context, url string, depth int, body string) (*dav.Response, error) {
	return f.do(davCall{Method: "PROPFIND", URL: url, Body: body, Header: fmt.Sprintf("%d", depth)})
}

func (f *fakeTransport) Report(ctx context.Context, url string, body string) (*dav.Response, error) {
	return f.do(davCall{Method: "REPORT", URL: url, Body: body})
}

func (f *fakeTransport) Get(ctx context.Context, url string) (*dav.Response, error) {
	return f.do(davCall{Method: "GET", URL: url})
}

func (f *fakeTransport) Put(ctx context.Context, url string, body []byte, contentType, ifMatch string) (*dav.Response, error) {
	return f.do(davCall{Method: "PUT", URL: url, Body: string(body), Header: ifMatch})
}

func (f *fakeTransport) Delete(ctx context.Context, url string, ifMatch string) (*dav.Response, error) {
	return f.do(davCall{Method: "DELETE", URL: url, Header: ifMatch})
}

func (f *fakeTransport) BaseURL() string { return f.base }

func (f *fakeTransport) recorded() []davCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]davCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// fakeMirror records mirrored operations.
type fakeMirror struct {
	mu      gosync.Mutex
	inserts []string
	updates []string
	deletes []string
}

func (m *fakeMirror) Insert(ctx context.Context, collectionID string, rec *codec.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts = append(m.inserts, rec.UID)
	return nil
}

func (m *fakeMirror) Update(ctx context.Context, collectionID string, rec *codec.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, rec.UID)
	return nil
}

func (m *fakeMirror) Delete(ctx context.Context, collectionID, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, uid)
	return nil
}

func (m *fakeMirror) deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deletes))
	copy(out, m.deletes)
	return out
}
