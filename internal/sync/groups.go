package sync

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/davsync/davsync/internal/codec"
	"github.com/davsync/davsync/internal/db"
)

// GroupStrategy abstracts how contact groups are represented in an address
// book. Servers disagree: some model groups as CATEGORIES values on each
// contact, others as standalone KIND:group vCards with MEMBER references.
type GroupStrategy interface {
	// BeforeUploadDirty runs before dirty items are pushed, so group
	// artifacts are consistent with the contacts being uploaded.
	BeforeUploadDirty(ctx context.Context, col *db.Collection) error
	// VerifyBeforeSaving vets a downloaded record; an error skips the record.
	VerifyBeforeSaving(rec *codec.Record) error
	// PostProcess runs after a download pass to settle membership links.
	PostProcess(ctx context.Context, col *db.Collection) error
}

// StrategyFor returns the group strategy for a collection, or nil when the
// collection carries no contacts.
func StrategyFor(col *db.Collection, items ItemStore) GroupStrategy {
	if col.Type != db.CollectionAddressBook {
		return nil
	}
	if col.GroupMethod == db.GroupMethodVCards {
		return &VCardGroupStrategy{items: items}
	}
	return &CategoriesStrategy{}
}

// CategoriesStrategy embeds group membership as CATEGORIES on each contact.
// Membership travels with the contact itself, so upload and post-processing
// need no extra work.
type CategoriesStrategy struct{}

func (s *CategoriesStrategy) BeforeUploadDirty(ctx context.Context, col *db.Collection) error {
	return nil
}

func (s *CategoriesStrategy) VerifyBeforeSaving(rec *codec.Record) error {
	if rec.IsGroup {
		return fmt.Errorf("unexpected group vCard %s in categories-managed address book", rec.UID)
	}
	return nil
}

func (s *CategoriesStrategy) PostProcess(ctx context.Context, col *db.Collection) error {
	return nil
}

// VCardGroupStrategy keeps groups as separate KIND:group vCards whose MEMBER
// properties reference contact UIDs.
type VCardGroupStrategy struct {
	items ItemStore
}

// BeforeUploadDirty rewrites dirty group vCards so they only reference
// contacts that still exist locally. Deleted members would otherwise be
// resurrected as dangling references on the server.
func (s *VCardGroupStrategy) BeforeUploadDirty(ctx context.Context, col *db.Collection) error {
	dirty, err := s.items.GetDirtyItems(col.ID)
	if err != nil {
		return fmt.Errorf("failed to load dirty items: %w", err)
	}

	for _, item := range dirty {
		if item.Deleted || !strings.Contains(item.Data, "KIND:group") {
			continue
		}

		records, err := codec.ParseContacts(item.Data)
		if err != nil || len(records) == 0 {
			continue
		}
		rec := records[0]
		if !rec.IsGroup {
			continue
		}

		var kept []string
		for _, member := range rec.Members {
			if _, err := s.items.GetItemByUID(col.ID, member); err == nil {
				kept = append(kept, member)
			} else {
				log.Printf("Dropping unknown member %s from group %s", member, rec.UID)
			}
		}
		if len(kept) == len(rec.Members) {
			continue
		}

		rec.Members = kept
		data, err := codec.SerializeContact(rec)
		if err != nil {
			log.Printf("Failed to re-serialize group %s: %v", rec.UID, err)
			continue
		}
		item.Data = data
		if err := s.items.UpdateItem(item); err != nil {
			log.Printf("Failed to persist rewritten group %s: %v", rec.UID, err)
		}
	}

	return nil
}

// VerifyBeforeSaving strips communication fields that some servers leave on
// group vCards; a group carries membership, not phone numbers.
func (s *VCardGroupStrategy) VerifyBeforeSaving(rec *codec.Record) error {
	if rec.IsGroup {
		rec.Phones = nil
		rec.Emails = nil
	}
	return nil
}

// PostProcess checks group membership against downloaded contacts. Unresolved
// members are tolerated: the referenced contact may live in another collection
// or arrive on a later pass.
func (s *VCardGroupStrategy) PostProcess(ctx context.Context, col *db.Collection) error {
	items, err := s.items.GetItemsByCollection(col.ID)
	if err != nil {
		return fmt.Errorf("failed to load collection items: %w", err)
	}

	for _, item := range items {
		if item.Deleted || !strings.Contains(item.Data, "KIND:group") {
			continue
		}
		records, err := codec.ParseContacts(item.Data)
		if err != nil || len(records) == 0 || !records[0].IsGroup {
			continue
		}
		for _, member := range records[0].Members {
			if _, err := s.items.GetItemByUID(col.ID, member); err != nil {
				log.Printf("Group %s references unresolved member %s", records[0].UID, member)
			}
		}
	}

	return nil
}
