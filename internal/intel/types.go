// Package intel holds the collection and STIX object store: what the
// platform shares, as opposed to who may see it (internal/trust) and how it
// is blurred on the way out (internal/anonymize).
package intel

import (
	"errors"
	"time"
)

// MediaTypeStix is the payload media type served for objects.
const MediaTypeStix = "application/stix+json;version=2.1"

// Collection is a named container of STIX objects owned by exactly one
// organization. can_write is only honored for the owner; can_read gates
// cross-org reads in combination with trust resolution.
type Collection struct {
	ID          string    `json:"id"`
	OwnerOrg    string    `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Alias       string    `json:"alias,omitempty"`
	CanRead     bool      `json:"can_read"`
	CanWrite    bool      `json:"can_write"`
	MediaTypes  []string  `json:"media_types"`
	CreatedAt   time.Time `json:"-"`
}

// Object is the typed envelope around a raw STIX payload. Raw stays an
// untyped map: STIX is extensible by design, and the validator, not a Go
// struct, is what constrains it.
type Object struct {
	StixID      string         `json:"stix_id"`
	StixType    string         `json:"stix_type"`
	SpecVersion string         `json:"spec_version"`
	Created     time.Time      `json:"created"`
	Modified    time.Time      `json:"modified"`
	SourceOrg   string         `json:"source_organization"`
	Raw         map[string]any `json:"raw_data"`
}

// Record pairs an object with its membership metadata in one collection.
type Record struct {
	Object
	DateAdded time.Time
}

// ManifestEntry is the lightweight projection served by manifest endpoints.
// No payload, so no anonymization applies.
type ManifestEntry struct {
	ID        string    `json:"id"`
	DateAdded time.Time `json:"date_added"`
	Version   string    `json:"version"`
	MediaType string    `json:"media_type"`
}

// Filter narrows collection object listings. AddedAfter is strictly
// greater-than against the join-table date_added.
type Filter struct {
	AddedAfter   *time.Time
	Types        []string
	IDs          []string
	SpecVersions []string
	Limit        int
	Offset       int
}

// Match reports whether a record passes the non-pagination filters.
func (f Filter) Match(rec Record) bool {
	if f.AddedAfter != nil && !rec.DateAdded.After(*f.AddedAfter) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, rec.StixType) {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, rec.StixID) {
		return false
	}
	if len(f.SpecVersions) > 0 && !contains(f.SpecVersions, rec.SpecVersion) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

var (
	ErrNotFound     = errors.New("intel: not found")
	ErrConflict     = errors.New("intel: already exists")
	ErrInvalidInput = errors.New("intel: invalid input")
	ErrWrongOwner   = errors.New("intel: owned by another organization")
)
