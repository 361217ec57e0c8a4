// Package codec converts between wire formats (iCalendar, vCard) and domain
// records. Parsing is deliberately lenient: one malformed component never
// aborts its siblings, and known encoding defects are repaired up front.
package codec

import (
	"time"
)

// Kind identifies the domain type of a record.
type Kind string

const (
	KindEvent   Kind = "event"
	KindTask    Kind = "task"
	KindContact Kind = "contact"
)

// Record is the domain representation of a single synced resource.
type Record struct {
	Kind Kind
	UID  string

	// Calendar fields
	Summary     string
	Description string
	Location    string
	Start       *time.Time
	End         *time.Time
	Due         *time.Time
	Completed   *time.Time
	Status      string
	Priority    int
	RRule       string
	Categories  []string
	ParentUID   string // RELATED-TO reference for subtasks

	// Contact fields
	FormattedName string
	FamilyName    string
	GivenName     string
	Organization  string
	Phones        []string
	Emails        []string

	// Contact-group fields
	IsGroup bool
	Members []string // Member UIDs of a group vCard

	// Extra holds extension-namespaced (X-) properties carried through
	// round-trips. Unknown standard-namespace properties are dropped rather
	// than re-emitted, since emitting them could produce invalid output.
	Extra map[string]string
}

// HasExplicitStart reports whether the record carries a start timestamp.
func (r *Record) HasExplicitStart() bool {
	return r.Start != nil
}
