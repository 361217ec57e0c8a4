package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/davsync/davsync/internal/codec"
	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
	"github.com/davsync/davsync/internal/mirror"
)

// EngineConfig tunes a sync engine.
type EngineConfig struct {
	// MultigetBatch caps the hrefs per multiget REPORT.
	MultigetBatch int
	// FullSyncAfter forces a full listing when the last sync is older than
	// this, so drift from missed incremental changes self-heals.
	FullSyncAfter time.Duration
}

// Engine runs the per-collection sync pass: change detection, incremental or
// full download reconciliation, then upload reconciliation. Every pass is
// idempotent; running it twice against an unchanged server is a no-op.
type Engine struct {
	items    ItemStore
	cols     CollectionStore
	client   Transport
	mirror   mirror.Adapter
	uploader *Uploader
	resolver *Resolver
	cfg      EngineConfig
	now      func() time.Time
}

// NewEngine creates a sync engine for one account's transport.
func NewEngine(items ItemStore, cols CollectionStore, client Transport, m mirror.Adapter, cfg EngineConfig) *Engine {
	if cfg.MultigetBatch <= 0 {
		cfg.MultigetBatch = 10
	}
	if cfg.FullSyncAfter <= 0 {
		cfg.FullSyncAfter = 7 * 24 * time.Hour
	}
	return &Engine{
		items:    items,
		cols:     cols,
		client:   client,
		mirror:   m,
		uploader: NewUploader(items, client, m),
		resolver: NewResolver(items, m),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SyncCollection runs one sync pass over a collection and returns its outcome.
// Errors are accumulated in the outcome rather than aborting the pass; a
// collection-level failure still leaves local state consistent.
func (e *Engine) SyncCollection(ctx context.Context, col *db.Collection, mode Mode) *Outcome {
	out := &Outcome{}

	// Offline collections have no remote counterpart; only bump the timestamp.
	if col.Type == db.CollectionLocal {
		e.persistState(col, out)
		return out
	}

	if mode == ModePush {
		out.Merge(e.uploader.UploadDirty(ctx, col))
		return out
	}

	// The staleness override runs before the CTag probe: the periodic full
	// listing exists to catch changes the server's change signals miss, so an
	// unchanged CTag must not suppress it.
	if !e.fullSyncOverdue(col) {
		changed, fetchedCTag := e.remoteChanged(ctx, col)
		if !changed {
			// Nothing new server-side; only local mutations need pushing.
			// The timestamp is left alone so the staleness clock keeps
			// counting towards the next forced full listing.
			out.Merge(e.uploader.UploadDirty(ctx, col))
			return out
		}

		if e.useIncremental(col) {
			err := e.incrementalSync(ctx, col, fetchedCTag, out)
			if err == nil {
				out.Merge(e.uploader.UploadDirty(ctx, col))
				return out
			}
			log.Printf("Incremental sync of %s failed, falling back to full listing: %v", col.ID, err)
		}
	}

	errsBefore := len(out.Errors)
	e.fullSync(ctx, col, out)
	downloadClean := len(out.Errors) == errsBefore

	out.Merge(e.uploader.UploadDirty(ctx, col))

	if downloadClean {
		e.refreshToken(ctx, col, out)
	} else {
		// The stored tokens stay put: advancing them past a failed download
		// phase would make the next probe skip the changes this pass missed.
		log.Printf("Keeping change tokens for %s, download phase had errors", col.ID)
	}

	return out
}

// remoteChanged compares the stored CTag against the server's current one.
// Any doubt (missing tokens, failed fetch) counts as changed so a real change
// is never skipped. The fetched CTag is returned for persisting once the pass
// succeeds; the stored CTag must not advance before its changes are applied.
func (e *Engine) remoteChanged(ctx context.Context, col *db.Collection) (bool, string) {
	resp, err := e.client.Propfind(ctx, col.URL, 0, dav.PropfindTokenBody)
	if err != nil || resp.StatusCode != 207 {
		return true, ""
	}

	ms, err := dav.ParseMultistatus(resp.Body)
	if err != nil || len(ms.Responses) == 0 {
		return true, ""
	}

	var fetched string
	for _, ps := range ms.Responses[0].Propstats {
		if ps.Prop.GetCTag != "" {
			fetched = ps.Prop.GetCTag
		}
	}
	if fetched == "" {
		return true, ""
	}

	return TokenChanged(col.CTag, fetched), fetched
}

// fullSyncOverdue reports whether the last sync is old enough to force a full
// listing regardless of the server's change signals.
func (e *Engine) fullSyncOverdue(col *db.Collection) bool {
	if col.LastSyncedAt == nil {
		return false
	}
	age := e.now().Sub(*col.LastSyncedAt)
	if age > e.cfg.FullSyncAfter {
		log.Printf("Collection %s last synced %s ago, forcing full listing", col.ID, age.Round(time.Hour))
		return true
	}
	return false
}

// useIncremental decides the sync strategy. A known sync-token enables the
// cheap RFC 6578 path; the staleness override has already been checked.
func (e *Engine) useIncremental(col *db.Collection) bool {
	return col.SyncToken != "" && col.LastSyncedAt != nil
}

// incrementalSync processes an RFC 6578 sync-collection change set. An error
// return makes the caller fall back to a full listing; nothing destructive
// happens before the response parses. Tokens advance only when every entry in
// the change set applied, so a failed fetch is re-delivered on the next pass.
func (e *Engine) incrementalSync(ctx context.Context, col *db.Collection, fetchedCTag string, out *Outcome) error {
	resp, err := e.client.Report(ctx, col.URL, dav.SyncCollectionBody(col.SyncToken))
	if err != nil {
		return fmt.Errorf("sync-collection report failed: %w", err)
	}
	if dav.IsAuthStatus(resp.StatusCode) {
		out.AuthFailed = true
		return fmt.Errorf("sync-collection rejected with status %d", resp.StatusCode)
	}
	if resp.StatusCode != 207 {
		return fmt.Errorf("sync-collection returned status %d", resp.StatusCode)
	}

	ms, err := dav.ParseMultistatus(resp.Body)
	if err != nil {
		return err
	}

	colPath := normalizePath(col.URL)
	errsBefore := len(out.Errors)
	for _, r := range ms.Responses {
		href := r.Href
		if r.IsCollection() || normalizePath(href) == colPath {
			continue
		}

		switch code := r.StatusCode(); {
		case dav.IsGoneStatus(code):
			if e.resolver.ResolveMissing(ctx, e.client.BaseURL(), col, href, "") {
				out.Deleted++
			}
		case code == 0 || (code >= 200 && code < 300):
			e.downloadResource(ctx, col, href, r.ETag(), out)
		default:
			log.Printf("Skipping resource %s with status %d in change set", href, code)
		}
	}

	if len(out.Errors) > errsBefore {
		log.Printf("Keeping sync token for %s, %d change-set entries failed", col.ID, len(out.Errors)-errsBefore)
		return nil
	}

	if ms.SyncToken != "" {
		col.SyncToken = ms.SyncToken
	}
	if fetchedCTag != "" {
		col.CTag = fetchedCTag
	}
	e.persistState(col, out)

	return nil
}

// downloadResource fetches one changed resource and stores its records. An
// unchanged etag skips the round-trip; a gone resource is handed to the
// resolver.
func (e *Engine) downloadResource(ctx context.Context, col *db.Collection, href, reportedEtag string, out *Outcome) {
	local := e.lookupLocal(col, href)
	if local != nil && !EtagChanged(local.ETag, reportedEtag) {
		return
	}

	resp, err := e.client.Get(ctx, dav.JoinURL(e.client.BaseURL(), href))
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to fetch %s: %v", href, err))
		return
	}
	if dav.IsGoneStatus(resp.StatusCode) {
		if e.resolver.ResolveMissing(ctx, e.client.BaseURL(), col, href, "") {
			out.Deleted++
		}
		return
	}
	if dav.IsAuthStatus(resp.StatusCode) {
		out.AuthFailed = true
		out.Errors = append(out.Errors, fmt.Sprintf("fetch of %s rejected with status %d", href, resp.StatusCode))
		return
	}
	if !resp.IsSuccess() {
		out.Errors = append(out.Errors, fmt.Sprintf("fetch of %s returned status %d", href, resp.StatusCode))
		return
	}

	etag := resp.ETag()
	if etag == "" {
		etag = reportedEtag
	}

	e.saveRecords(ctx, col, href, etag, string(resp.Body), out)
}

// fullSync reconciles against a complete Depth-1 listing: deletion pass
// first, then batched multiget downloads for new or changed members.
func (e *Engine) fullSync(ctx context.Context, col *db.Collection, out *Outcome) {
	resp, err := e.client.Propfind(ctx, col.URL, 1, dav.PropfindListingBody)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("listing failed: %v", err))
		return
	}
	if dav.IsAuthStatus(resp.StatusCode) {
		out.AuthFailed = true
		out.Errors = append(out.Errors, fmt.Sprintf("listing rejected with status %d", resp.StatusCode))
		return
	}
	if resp.StatusCode != 207 {
		out.Errors = append(out.Errors, fmt.Sprintf("listing returned status %d", resp.StatusCode))
		return
	}

	ms, err := dav.ParseMultistatus(resp.Body)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
		return
	}

	type member struct {
		href string
		etag string
	}
	colPath := normalizePath(col.URL)
	present := make(map[string]bool)
	var members []member
	for _, r := range ms.Responses {
		if r.IsCollection() || normalizePath(r.Href) == colPath {
			continue
		}
		present[normalizePath(r.Href)] = true
		members = append(members, member{href: r.Href, etag: r.ETag()})
	}

	// Deletion pass runs before downloads so a resource that moved is
	// re-created rather than duplicated.
	locals, err := e.items.GetItemsByCollection(col.ID)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to load local items: %v", err))
		return
	}
	for _, item := range locals {
		if item.URL == "" || item.Deleted {
			continue
		}
		if !present[normalizePath(item.URL)] {
			if e.resolver.ResolveMissing(ctx, e.client.BaseURL(), col, item.URL, item.URL) {
				out.Deleted++
			}
		}
	}

	var toFetch []string
	for _, m := range members {
		local := e.lookupLocal(col, m.href)
		if local == nil || EtagChanged(local.ETag, m.etag) {
			toFetch = append(toFetch, m.href)
		}
	}

	e.multigetBatches(ctx, col, toFetch, out)

	if col.Type == db.CollectionTaskList {
		e.resolveParents(col)
	}

	if strategy := StrategyFor(col, e.items); strategy != nil {
		if err := strategy.PostProcess(ctx, col); err != nil {
			log.Printf("Group post-processing failed for collection %s: %v", col.ID, err)
		}
	}
}

// multigetBatches downloads hrefs in fixed-size multiget REPORTs. A failed
// batch is logged and skipped; its members are fetched again on the next pass.
func (e *Engine) multigetBatches(ctx context.Context, col *db.Collection, hrefs []string, out *Outcome) {
	for start := 0; start < len(hrefs); start += e.cfg.MultigetBatch {
		end := start + e.cfg.MultigetBatch
		if end > len(hrefs) {
			end = len(hrefs)
		}
		batch := hrefs[start:end]

		var body string
		if col.Type == db.CollectionAddressBook {
			body = dav.AddressbookMultigetBody(batch)
		} else {
			body = dav.CalendarMultigetBody(batch)
		}

		resp, err := e.client.Report(ctx, col.URL, body)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("multiget batch failed: %v", err))
			continue
		}
		if dav.IsAuthStatus(resp.StatusCode) {
			out.AuthFailed = true
			out.Errors = append(out.Errors, fmt.Sprintf("multiget rejected with status %d", resp.StatusCode))
			return
		}
		if resp.StatusCode != 207 {
			out.Errors = append(out.Errors, fmt.Sprintf("multiget returned status %d", resp.StatusCode))
			continue
		}

		ms, err := dav.ParseMultistatus(resp.Body)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
			continue
		}

		for _, r := range ms.Responses {
			code := r.StatusCode()
			switch {
			case dav.IsGoneStatus(code):
				// Listed a moment ago, gone now.
				if e.resolver.ResolveMissing(ctx, e.client.BaseURL(), col, r.Href, "") {
					out.Deleted++
				}
			case code == 0 || (code >= 200 && code < 300):
				e.saveRecords(ctx, col, r.Href, r.ETag(), r.Payload(), out)
			default:
				log.Printf("Skipping resource %s with status %d in multiget", r.Href, code)
			}
		}
	}
}

// saveRecords parses a downloaded payload and upserts its records. Local
// tombstones and dirty items always win over the downloaded copy; the upload
// pass settles them against the server afterwards.
func (e *Engine) saveRecords(ctx context.Context, col *db.Collection, href, etag, payload string, out *Outcome) {
	var records []*codec.Record
	var err error
	if col.Type == db.CollectionAddressBook {
		records, err = codec.ParseContacts(payload)
	} else {
		records, err = codec.ParseCalendar(payload)
	}
	if err != nil {
		log.Printf("Skipping unparsable payload for %s: %v", href, err)
		return
	}
	if len(records) == 0 {
		log.Printf("No usable records in payload for %s", href)
		return
	}

	strategy := StrategyFor(col, e.items)
	storedURL := normalizePath(href)

	for _, rec := range records {
		if strategy != nil {
			if err := strategy.VerifyBeforeSaving(rec); err != nil {
				log.Printf("Skipping record %s: %v", rec.UID, err)
				continue
			}
		}

		local, err := e.items.GetItemByUID(col.ID, rec.UID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			// A store failure is not "item absent"; inserting here would
			// collide with the existing row.
			out.Errors = append(out.Errors, fmt.Sprintf("failed to look up %s: %v", rec.UID, err))
			continue
		}
		if err == nil {
			if local.Deleted {
				// A tombstone is terminal; the pending delete wins.
				continue
			}
			if local.Dirty {
				// The local edit wins; upload reconciliation settles it.
				continue
			}
			applyRecord(local, rec)
			local.URL = storedURL
			local.ETag = etag
			local.Data = payload
			if err := e.items.UpdateItem(local); err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("failed to update %s: %v", rec.UID, err))
				continue
			}
			if local.Kind != db.KindTask {
				if err := e.mirror.Update(ctx, col.ID, rec); err != nil {
					log.Printf("Failed to mirror update of %s: %v", rec.UID, err)
				}
			}
			out.Downloaded++
			continue
		}

		item := &db.Item{
			CollectionID: col.ID,
			Kind:         kindFor(col, rec),
			URL:          storedURL,
			UID:          rec.UID,
			ETag:         etag,
			Data:         payload,
		}
		applyRecord(item, rec)
		if err := e.items.InsertItem(item); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to insert %s: %v", rec.UID, err))
			continue
		}
		if item.Kind != db.KindTask {
			if err := e.mirror.Insert(ctx, col.ID, rec); err != nil {
				log.Printf("Failed to mirror insert of %s: %v", rec.UID, err)
			}
		}
		out.Downloaded++
	}
}

// resolveParents links subtasks to their parents after a download pass. The
// parent may arrive later in the same pass than its children, so linkage is
// deferred until all records are stored. Orphans are tolerated.
func (e *Engine) resolveParents(col *db.Collection) {
	items, err := e.items.GetItemsByCollection(col.ID)
	if err != nil {
		log.Printf("Failed to load items for parent resolution: %v", err)
		return
	}

	byUID := make(map[string]string, len(items))
	for _, item := range items {
		byUID[item.UID] = item.ID
	}

	for _, item := range items {
		if item.ParentUID == "" || item.ParentID != "" {
			continue
		}
		parentID, ok := byUID[item.ParentUID]
		if !ok {
			log.Printf("Task %s references unknown parent %s", item.UID, item.ParentUID)
			continue
		}
		if err := e.items.SetItemParent(item.ID, parentID); err != nil {
			log.Printf("Failed to link task %s to parent: %v", item.UID, err)
		}
	}
}

// refreshToken fetches fresh change tokens after a full pass and persists the
// sync state. The timestamp is bumped even when the token fetch fails, so the
// full pass itself is still recorded.
func (e *Engine) refreshToken(ctx context.Context, col *db.Collection, out *Outcome) {
	resp, err := e.client.Propfind(ctx, col.URL, 0, dav.PropfindTokenBody)
	if err == nil && resp.StatusCode == 207 {
		if ms, perr := dav.ParseMultistatus(resp.Body); perr == nil && len(ms.Responses) > 0 {
			for _, ps := range ms.Responses[0].Propstats {
				if ps.Prop.GetCTag != "" {
					col.CTag = ps.Prop.GetCTag
				}
				if ps.Prop.SyncToken != "" {
					col.SyncToken = ps.Prop.SyncToken
				}
			}
		}
	} else if err != nil {
		log.Printf("Failed to refresh change tokens for %s: %v", col.ID, err)
	}

	e.persistState(col, out)
}

// persistState writes the collection's tokens and bumps lastSyncedAt.
func (e *Engine) persistState(col *db.Collection, out *Outcome) {
	now := e.now()
	if err := e.cols.UpdateCollectionSyncState(col.ID, col.CTag, col.SyncToken, now); err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to persist sync state: %v", err))
		return
	}
	col.LastSyncedAt = &now
}

// lookupLocal finds the local item behind a server href, trying the same URL
// candidates the resolver uses.
func (e *Engine) lookupLocal(col *db.Collection, href string) *db.Item {
	for _, candidate := range CandidateURLs(e.client.BaseURL(), col.URL, href, "") {
		if item, err := e.items.GetItemByURL(col.ID, candidate); err == nil {
			return item
		}
	}
	return nil
}

// applyRecord copies the indexed columns of a record onto an item.
func applyRecord(item *db.Item, rec *codec.Record) {
	item.Summary = rec.Summary
	if item.Summary == "" {
		item.Summary = rec.FormattedName
	}
	item.StartsAt = rec.Start
	item.EndsAt = rec.End
	item.DueAt = rec.Due
	item.Status = rec.Status
	item.ParentUID = rec.ParentUID
}

func kindFor(col *db.Collection, rec *codec.Record) db.ItemKind {
	switch {
	case col.Type == db.CollectionAddressBook:
		return db.KindContact
	case rec.Kind == codec.KindTask:
		return db.KindTask
	default:
		return db.KindEvent
	}
}

// normalizePath reduces an href to its decoded path form, the canonical shape
// stored in the items table.
func normalizePath(href string) string {
	p := dav.UnescapePath(dav.PathOnly(href))
	return "/" + strings.TrimPrefix(strings.TrimSuffix(p, "/"), "/")
}
