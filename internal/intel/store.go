package intel

import (
	"context"
	"time"
)

// Store persists collections, objects and the membership join between them.
//
// UpsertObject carries the ingest contract: an existing stix_id updates
// raw_data and modified, an absent one inserts. The ownership check runs
// inside the same locked scope as the write, so a stix_id stays with the
// organization that first contributed it; a write from any other org fails
// with ErrWrongOwner. AddToCollection is idempotent for the same
// (collection, object) pair. Both must serialize conflicting writes to the
// same entity.
type Store interface {
	CreateCollection(ctx context.Context, c *Collection) error
	GetCollection(ctx context.Context, id string) (*Collection, error)
	ListCollectionsByOrg(ctx context.Context, orgID string) ([]*Collection, error)

	UpsertObject(ctx context.Context, obj *Object) (created bool, err error)
	GetObject(ctx context.Context, stixID string) (*Object, error)

	AddToCollection(ctx context.Context, collectionID, stixID string, at time.Time) (added bool, err error)
	GetRecord(ctx context.Context, collectionID, stixID string) (*Record, error)

	// ListRecords returns records ordered by date_added (ascending, stix_id
	// as tie-break), applying the filter and pagination; more reports that
	// records past offset+limit exist.
	ListRecords(ctx context.Context, collectionID string, f Filter) (records []Record, more bool, err error)
	Manifest(ctx context.Context, collectionID string, f Filter) (entries []ManifestEntry, more bool, err error)
}
