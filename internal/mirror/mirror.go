// Package mirror defines the adapter boundary towards platform calendar and
// contact stores. The sync engine propagates confirmed state one-way through
// this interface; it never reads the platform store back.
package mirror

import (
	"context"
	"log"

	"github.com/davsync/davsync/internal/codec"
)

// Adapter mirrors confirmed item state into a platform-side store.
//
// Implementations must be safe for concurrent use; the sync engine calls them
// from parallel per-collection goroutines. Errors are treated as best-effort
// by callers: they are logged, never fatal to a sync pass.
type Adapter interface {
	Insert(ctx context.Context, collectionID string, rec *codec.Record) error
	Update(ctx context.Context, collectionID string, rec *codec.Record) error
	Delete(ctx context.Context, collectionID, uid string) error
}

// LogAdapter is the default Adapter: it only logs the mirrored operations.
// Deployments integrating a real platform store replace it at wiring time.
type LogAdapter struct{}

// NewLogAdapter creates a LogAdapter.
func NewLogAdapter() *LogAdapter {
	return &LogAdapter{}
}

// Insert logs an inserted record.
func (a *LogAdapter) Insert(ctx context.Context, collectionID string, rec *codec.Record) error {
	log.Printf("mirror: insert %s %s in collection %s", rec.Kind, rec.UID, collectionID)
	return nil
}

// Update logs an updated record.
func (a *LogAdapter) Update(ctx context.Context, collectionID string, rec *codec.Record) error {
	log.Printf("mirror: update %s %s in collection %s", rec.Kind, rec.UID, collectionID)
	return nil
}

// Delete logs a removed record.
func (a *LogAdapter) Delete(ctx context.Context, collectionID, uid string) error {
	log.Printf("mirror: delete %s from collection %s", uid, collectionID)
	return nil
}
