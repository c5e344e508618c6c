package intel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedCollection(t *testing.T, store *Memory, id, owner string) *Collection {
	t.Helper()
	c := &Collection{
		ID:         id,
		OwnerOrg:   owner,
		Title:      "Indicators",
		CanRead:    true,
		CanWrite:   true,
		MediaTypes: []string{MediaTypeStix},
	}
	if err := store.CreateCollection(context.Background(), c); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return c
}

func seedObject(t *testing.T, store *Memory, collectionID, stixID, stixType string, added time.Time) {
	t.Helper()
	ctx := context.Background()
	obj := &Object{
		StixID:      stixID,
		StixType:    stixType,
		SpecVersion: "2.1",
		SourceOrg:   "org-a",
		Created:     added,
		Modified:    added,
		Raw:         map[string]any{"type": stixType, "id": stixID},
	}
	if _, err := store.UpsertObject(ctx, obj); err != nil {
		t.Fatalf("upsert %s: %v", stixID, err)
	}
	if _, err := store.AddToCollection(ctx, collectionID, stixID, added); err != nil {
		t.Fatalf("attach %s: %v", stixID, err)
	}
}

func TestUpsertObjectIdempotent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	obj := &Object{
		StixID:      "indicator--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		StixType:    "indicator",
		SpecVersion: "2.1",
		SourceOrg:   "org-a",
		Raw:         map[string]any{"pattern": "v1"},
	}
	created, err := store.UpsertObject(ctx, obj)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	obj.Raw = map[string]any{"pattern": "v2"}
	obj.Modified = time.Now().UTC().Add(time.Hour)
	created, err = store.UpsertObject(ctx, obj)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("second upsert must update, not create")
	}

	got, err := store.GetObject(ctx, obj.StixID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Raw["pattern"] != "v2" {
		t.Fatalf("raw_data not updated: %v", got.Raw)
	}
}

func TestUpsertObjectRejectsForeignSource(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	obj := &Object{
		StixID:      "indicator--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f",
		StixType:    "indicator",
		SpecVersion: "2.1",
		SourceOrg:   "org-a",
		Raw:         map[string]any{"pattern": "original"},
	}
	if _, err := store.UpsertObject(ctx, obj); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	foreign := &Object{
		StixID:      obj.StixID,
		StixType:    "indicator",
		SpecVersion: "2.1",
		SourceOrg:   "org-b",
		Raw:         map[string]any{"pattern": "hijacked"},
	}
	if _, err := store.UpsertObject(ctx, foreign); !errors.Is(err, ErrWrongOwner) {
		t.Fatalf("expected ErrWrongOwner, got %v", err)
	}

	got, err := store.GetObject(ctx, obj.StixID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceOrg != "org-a" || got.Raw["pattern"] != "original" {
		t.Fatalf("object mutated by rejected write: %+v", got)
	}
}

func TestAddToCollectionIdempotent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	c := seedCollection(t, store, "col-1", "org-a")
	now := time.Now().UTC()
	seedObject(t, store, c.ID, "indicator--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f", "indicator", now)

	added, err := store.AddToCollection(ctx, c.ID, "indicator--8e2e2d2b-17d4-4cbf-938f-98ee46b3cd3f", now)
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if added {
		t.Fatal("re-attach must be a no-op")
	}

	records, _, err := store.ListRecords(ctx, c.ID, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one membership, got %d", len(records))
	}
}

func TestListRecordsFilters(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	c := seedCollection(t, store, "col-1", "org-a")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedObject(t, store, c.ID, "indicator--11111111-1111-4111-8111-111111111111", "indicator", base)
	seedObject(t, store, c.ID, "malware--22222222-2222-4222-8222-222222222222", "malware", base.Add(time.Minute))
	seedObject(t, store, c.ID, "indicator--33333333-3333-4333-8333-333333333333", "indicator", base.Add(2*time.Minute))

	records, _, err := store.ListRecords(ctx, c.ID, Filter{Types: []string{"indicator"}})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 indicators, got %d", len(records))
	}

	// added_after is strictly greater-than.
	cursor := base.Add(time.Minute)
	records, _, err = store.ListRecords(ctx, c.ID, Filter{AddedAfter: &cursor})
	if err != nil {
		t.Fatalf("list added_after: %v", err)
	}
	if len(records) != 1 || records[0].StixType != "indicator" {
		t.Fatalf("expected only the third object, got %+v", records)
	}
}

func TestListRecordsPagination(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	c := seedCollection(t, store, "col-1", "org-a")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{
		"indicator--11111111-1111-4111-8111-111111111111",
		"indicator--22222222-2222-4222-8222-222222222222",
		"indicator--33333333-3333-4333-8333-333333333333",
	} {
		seedObject(t, store, c.ID, id, "indicator", base.Add(time.Duration(i)*time.Minute))
	}

	records, more, err := store.ListRecords(ctx, c.ID, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(records) != 2 || !more {
		t.Fatalf("expected truncated first page, got %d more=%v", len(records), more)
	}

	records, more, err = store.ListRecords(ctx, c.ID, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(records) != 1 || more {
		t.Fatalf("expected final page of 1, got %d more=%v", len(records), more)
	}
}

func TestManifestProjection(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	c := seedCollection(t, store, "col-1", "org-a")
	added := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedObject(t, store, c.ID, "indicator--11111111-1111-4111-8111-111111111111", "indicator", added)

	entries, more, err := store.Manifest(ctx, c.ID, Filter{})
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if more || len(entries) != 1 {
		t.Fatalf("unexpected manifest shape: %d more=%v", len(entries), more)
	}
	e := entries[0]
	if e.ID != "indicator--11111111-1111-4111-8111-111111111111" {
		t.Fatalf("unexpected id: %s", e.ID)
	}
	if !e.DateAdded.Equal(added) || e.MediaType != MediaTypeStix {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestGetRecordScopedToCollection(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	c1 := seedCollection(t, store, "col-1", "org-a")
	seedCollection(t, store, "col-2", "org-a")
	now := time.Now().UTC()
	seedObject(t, store, c1.ID, "indicator--11111111-1111-4111-8111-111111111111", "indicator", now)

	// Present in col-1, absent from col-2 even though the object exists.
	if _, err := store.GetRecord(ctx, "col-2", "indicator--11111111-1111-4111-8111-111111111111"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetRecord(ctx, c1.ID, "indicator--11111111-1111-4111-8111-111111111111"); err != nil {
		t.Fatalf("expected record in col-1: %v", err)
	}
}
