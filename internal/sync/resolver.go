package sync

import (
	"context"
	"log"
	"strings"

	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
	"github.com/davsync/davsync/internal/mirror"
)

// Resolver reconciles local state when the server reports a resource gone
// (404/410 on GET, multiget or sync-collection). Servers report such hrefs in
// several forms, so the lookup tries an ordered list of URL candidates.
type Resolver struct {
	items  ItemStore
	mirror mirror.Adapter
}

// NewResolver creates a Resolver.
func NewResolver(items ItemStore, m mirror.Adapter) *Resolver {
	return &Resolver{items: items, mirror: m}
}

// CandidateURLs builds the ordered list of stored-URL forms to try for a
// gone href. The hint is a caller-known exact stored URL (tried first);
// duplicates are removed preserving order.
func CandidateURLs(baseURL, collectionURL, href, hint string) []string {
	path := dav.UnescapePath(dav.PathOnly(href))

	raw := []string{
		hint,
		href,
		path,
		"/" + strings.TrimPrefix(path, "/"),
		strings.TrimPrefix(path, "/"),
		dav.PathOnly(dav.JoinURL(collectionURL, dav.Basename(href))),
		dav.JoinURL(baseURL, path),
	}

	seen := make(map[string]bool, len(raw))
	var candidates []string
	for _, c := range raw {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		candidates = append(candidates, c)
	}
	return candidates
}

// ResolveMissing looks up the local item behind a gone href and removes it,
// mirroring the removal for calendar and contact items. It reports whether a
// local item was actually removed; an unknown href is not an error, the
// resource may simply never have been downloaded.
func (r *Resolver) ResolveMissing(ctx context.Context, baseURL string, col *db.Collection, href, hint string) bool {
	for _, candidate := range CandidateURLs(baseURL, col.URL, href, hint) {
		item, err := r.items.GetItemByURL(col.ID, candidate)
		if err != nil {
			continue
		}

		if err := r.items.DeleteItem(item.ID); err != nil {
			log.Printf("Failed to delete local item %s for gone resource %s: %v", item.ID, href, err)
			return false
		}

		if item.Kind != db.KindTask {
			if err := r.mirror.Delete(ctx, col.ID, item.UID); err != nil {
				log.Printf("Failed to mirror deletion of %s: %v", item.UID, err)
			}
		}

		log.Printf("Removed local item %s (uid=%s) for gone resource %s", item.ID, item.UID, href)
		return true
	}

	log.Printf("Gone resource %s matched no local item in collection %s", href, col.ID)
	return false
}
