package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/davsync/davsync/internal/codec"
	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
	"github.com/davsync/davsync/internal/mirror"
)

const (
	contentTypeCalendar = "text/calendar; charset=utf-8"
	contentTypeVCard    = "text/vcard; charset=utf-8"
)

// Uploader pushes local mutations (dirty items and tombstones) to the server.
// Every request carries the stored etag as a precondition so a concurrent
// remote edit is never overwritten; a 412 leaves the local flag in place and
// the next download pass reconciles the conflict.
type Uploader struct {
	items  ItemStore
	client Transport
	mirror mirror.Adapter
}

// NewUploader creates an Uploader.
func NewUploader(items ItemStore, client Transport, m mirror.Adapter) *Uploader {
	return &Uploader{items: items, client: client, mirror: m}
}

// UploadDirty pushes all dirty and tombstoned items of a collection. Failures
// are isolated per item: one rejected upload never blocks its siblings.
func (u *Uploader) UploadDirty(ctx context.Context, col *db.Collection) *Outcome {
	out := &Outcome{}

	if col.ForceReadOnly {
		log.Printf("Collection %s is read-only, skipping upload", col.ID)
		return out
	}

	if strategy := StrategyFor(col, u.items); strategy != nil {
		if err := strategy.BeforeUploadDirty(ctx, col); err != nil {
			log.Printf("Group pre-upload pass failed for collection %s: %v", col.ID, err)
		}
	}

	dirty, err := u.items.GetDirtyItems(col.ID)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to load dirty items: %v", err))
		return out
	}

	for _, item := range dirty {
		var err error
		if item.Deleted {
			err = u.deleteRemote(ctx, col, item, out)
		} else {
			err = u.putItem(ctx, col, item, out)
		}
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("item %s: %v", item.UID, err))
		}
	}

	return out
}

// deleteRemote removes a tombstoned item from the server and, once confirmed,
// from the local store. A 412 means the server copy changed since we last saw
// it; the local tombstone still wins, so the delete is retried unconditioned.
func (u *Uploader) deleteRemote(ctx context.Context, col *db.Collection, item *db.Item, out *Outcome) error {
	if item.URL == "" {
		// Never uploaded; nothing exists remotely.
		return u.finishDelete(ctx, col, item, out)
	}

	url := dav.JoinURL(u.client.BaseURL(), item.URL)

	resp, err := u.client.Delete(ctx, url, item.ETag)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	if resp.StatusCode == 412 {
		log.Printf("Delete of %s hit a changed server copy, retrying unconditioned", item.UID)
		resp, err = u.client.Delete(ctx, url, "")
		if err != nil {
			return fmt.Errorf("unconditioned delete failed: %w", err)
		}
	}

	if dav.IsAuthStatus(resp.StatusCode) {
		out.AuthFailed = true
		return fmt.Errorf("delete rejected with status %d", resp.StatusCode)
	}

	// Already gone counts as success; the goal state is reached either way.
	if !resp.IsSuccess() && !dav.IsGoneStatus(resp.StatusCode) {
		return fmt.Errorf("delete rejected with status %d", resp.StatusCode)
	}

	return u.finishDelete(ctx, col, item, out)
}

func (u *Uploader) finishDelete(ctx context.Context, col *db.Collection, item *db.Item, out *Outcome) error {
	if err := u.items.DeleteItem(item.ID); err != nil {
		return fmt.Errorf("failed to remove local tombstone: %w", err)
	}
	if item.Kind != db.KindTask {
		if err := u.mirror.Delete(ctx, col.ID, item.UID); err != nil {
			log.Printf("Failed to mirror deletion of %s: %v", item.UID, err)
		}
	}
	out.Deleted++
	return nil
}

// putItem uploads a dirty item. Updates are conditioned on the stored etag;
// creates go to a fresh UID-derived URL under the collection.
func (u *Uploader) putItem(ctx context.Context, col *db.Collection, item *db.Item, out *Outcome) error {
	body, contentType, err := u.payloadFor(col, item)
	if err != nil {
		return fmt.Errorf("failed to serialize: %w", err)
	}

	var url, storedPath, ifMatch string
	if item.URL != "" {
		url = dav.JoinURL(u.client.BaseURL(), item.URL)
		storedPath = item.URL
		ifMatch = item.ETag
	} else {
		url = dav.JoinURL(col.URL, item.UID+extensionFor(col))
		storedPath = dav.PathOnly(url)
	}

	resp, err := u.client.Put(ctx, url, body, contentType, ifMatch)
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}

	if dav.IsAuthStatus(resp.StatusCode) {
		out.AuthFailed = true
		return fmt.Errorf("put rejected with status %d", resp.StatusCode)
	}
	if resp.StatusCode == 412 {
		// Remote changed underneath us. The item stays dirty; the next
		// download pass fetches the server copy and reconciliation reruns.
		return fmt.Errorf("put precondition failed, deferring to next sync")
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("put rejected with status %d", resp.StatusCode)
	}

	etag := resp.ETag()
	if item.URL == "" {
		if err := u.items.UpdateItemRemote(item.ID, storedPath, etag); err != nil {
			return fmt.Errorf("failed to record remote location: %w", err)
		}
	} else if err := u.items.UpdateItemEtag(item.ID, etag); err != nil {
		return fmt.Errorf("failed to record etag: %w", err)
	}

	if err := u.items.MarkItemClean(item.ID); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}

	out.Uploaded++
	return nil
}

// payloadFor returns the wire body for an item. The stored raw payload wins
// when present so round-trips preserve properties the engine does not model;
// items created locally without a payload are synthesized from columns.
func (u *Uploader) payloadFor(col *db.Collection, item *db.Item) ([]byte, string, error) {
	if item.Data != "" {
		return []byte(item.Data), mediaTypeFor(col), nil
	}

	rec := &codec.Record{
		UID:       item.UID,
		Summary:   item.Summary,
		Start:     item.StartsAt,
		End:       item.EndsAt,
		Due:       item.DueAt,
		Status:    item.Status,
		ParentUID: item.ParentUID,
	}

	var data string
	var err error
	switch item.Kind {
	case db.KindContact:
		rec.Kind = codec.KindContact
		data, err = codec.SerializeContact(rec)
	case db.KindTask:
		rec.Kind = codec.KindTask
		data, err = codec.SerializeCalendar(rec)
	default:
		rec.Kind = codec.KindEvent
		data, err = codec.SerializeCalendar(rec)
	}
	if err != nil {
		return nil, "", err
	}
	return []byte(data), mediaTypeFor(col), nil
}

func mediaTypeFor(col *db.Collection) string {
	if col.Type == db.CollectionAddressBook {
		return contentTypeVCard
	}
	return contentTypeCalendar
}

func extensionFor(col *db.Collection) string {
	if col.Type == db.CollectionAddressBook {
		return ".vcf"
	}
	return ".ics"
}
