package intel

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory implements Store with in-process concurrency safety.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]Collection
	objects     map[string]Object
	entries     map[string][]entry // collectionID -> ordered memberships
}

type entry struct {
	stixID    string
	dateAdded time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty object store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]Collection),
		objects:     make(map[string]Object),
		entries:     make(map[string][]entry),
	}
}

func (m *Memory) CreateCollection(ctx context.Context, c *Collection) error {
	if c == nil || c.ID == "" || c.OwnerOrg == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c.ID]; ok {
		return ErrConflict
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.collections[c.ID] = *c
	return nil
}

func (m *Memory) GetCollection(ctx context.Context, id string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}

func (m *Memory) ListCollectionsByOrg(ctx context.Context, orgID string) ([]*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Collection
	for _, c := range m.collections {
		if c.OwnerOrg == orgID {
			cc := c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *Memory) UpsertObject(ctx context.Context, obj *Object) (bool, error) {
	if obj == nil || obj.StixID == "" || obj.StixType == "" {
		return false, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.objects[obj.StixID]; ok {
		if existing.SourceOrg != obj.SourceOrg {
			return false, ErrWrongOwner
		}
		existing.Raw = obj.Raw
		existing.Modified = obj.Modified
		if existing.Modified.IsZero() {
			existing.Modified = time.Now().UTC()
		}
		m.objects[obj.StixID] = existing
		return false, nil
	}
	stored := *obj
	if stored.Created.IsZero() {
		stored.Created = time.Now().UTC()
	}
	if stored.Modified.IsZero() {
		stored.Modified = stored.Created
	}
	m.objects[obj.StixID] = stored
	return true, nil
}

func (m *Memory) GetObject(ctx context.Context, stixID string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[stixID]
	if !ok {
		return nil, ErrNotFound
	}
	out := obj
	return &out, nil
}

func (m *Memory) AddToCollection(ctx context.Context, collectionID, stixID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collectionID]; !ok {
		return false, ErrNotFound
	}
	if _, ok := m.objects[stixID]; !ok {
		return false, ErrNotFound
	}
	for _, e := range m.entries[collectionID] {
		if e.stixID == stixID {
			return false, nil
		}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m.entries[collectionID] = append(m.entries[collectionID], entry{stixID: stixID, dateAdded: at})
	return true, nil
}

func (m *Memory) GetRecord(ctx context.Context, collectionID, stixID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.collections[collectionID]; !ok {
		return nil, ErrNotFound
	}
	for _, e := range m.entries[collectionID] {
		if e.stixID == stixID {
			obj := m.objects[stixID]
			return &Record{Object: obj, DateAdded: e.dateAdded}, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListRecords(ctx context.Context, collectionID string, f Filter) ([]Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.collections[collectionID]; !ok {
		return nil, false, ErrNotFound
	}

	matched := m.matchedRecords(collectionID, f)
	page, more := paginate(matched, f)
	return page, more, nil
}

func (m *Memory) Manifest(ctx context.Context, collectionID string, f Filter) ([]ManifestEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.collections[collectionID]; !ok {
		return nil, false, ErrNotFound
	}

	matched := m.matchedRecords(collectionID, f)
	page, more := paginate(matched, f)

	entries := make([]ManifestEntry, 0, len(page))
	for _, rec := range page {
		entries = append(entries, ManifestEntry{
			ID:        rec.StixID,
			DateAdded: rec.DateAdded,
			Version:   rec.Modified.UTC().Format(time.RFC3339),
			MediaType: MediaTypeStix,
		})
	}
	return entries, more, nil
}

// matchedRecords requires m.mu to be held.
func (m *Memory) matchedRecords(collectionID string, f Filter) []Record {
	var matched []Record
	for _, e := range m.entries[collectionID] {
		obj, ok := m.objects[e.stixID]
		if !ok {
			continue
		}
		rec := Record{Object: obj, DateAdded: e.dateAdded}
		if f.Match(rec) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].DateAdded.Equal(matched[j].DateAdded) {
			return matched[i].StixID < matched[j].StixID
		}
		return matched[i].DateAdded.Before(matched[j].DateAdded)
	})
	return matched
}

func paginate(records []Record, f Filter) ([]Record, bool) {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil, false
	}
	records = records[offset:]

	limit := f.Limit
	if limit <= 0 {
		return records, false
	}
	if len(records) > limit {
		return records[:limit], true
	}
	return records, false
}
