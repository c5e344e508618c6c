package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryOrganizations implements OrganizationStore in process memory.
type MemoryOrganizations struct {
	mu   sync.RWMutex
	orgs map[string]Organization
}

var _ OrganizationStore = (*MemoryOrganizations)(nil)

// NewMemoryOrganizations creates an empty store.
func NewMemoryOrganizations() *MemoryOrganizations {
	return &MemoryOrganizations{orgs: make(map[string]Organization)}
}

func (m *MemoryOrganizations) Create(ctx context.Context, org *Organization) error {
	if org == nil || org.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.ID]; ok {
		return ErrConflict
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	m.orgs[org.ID] = *org
	return nil
}

func (m *MemoryOrganizations) Find(ctx context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := org
	return &out, nil
}

func (m *MemoryOrganizations) List(ctx context.Context) ([]*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Organization, 0, len(m.orgs))
	for _, org := range m.orgs {
		o := org
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
