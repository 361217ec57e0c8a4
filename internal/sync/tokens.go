package sync

// TokenChanged reports whether a collection-level change token (CTag or
// sync-token) indicates remote changes. An unknown stored token always counts
// as changed so the first sync does a full pass.
func TokenChanged(stored, fetched string) bool {
	if stored == "" {
		return true
	}
	return stored != fetched
}

// EtagChanged reports whether a resource must be re-downloaded. A missing
// etag on either side forces the download; etags are opaque, so only strict
// equality counts as unchanged.
func EtagChanged(stored, fetched string) bool {
	if stored == "" || fetched == "" {
		return true
	}
	return stored != fetched
}
