package trust

import (
	"context"
	"sort"
	"sync"
)

// Memory implements Store with in-process concurrency safety. The single
// write lock gives the same duplicate-insert guarantee the Postgres store
// gets from unique indexes under select-for-update.
type Memory struct {
	mu            sync.RWMutex
	levels        map[string]Level
	relationships map[string]Relationship
	groups        map[string]Group
	groupOrder    []string
	memberships   map[string]Membership // key: groupID + "/" + orgID
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty trust store.
func NewMemory() *Memory {
	return &Memory{
		levels:        make(map[string]Level),
		relationships: make(map[string]Relationship),
		groups:        make(map[string]Group),
		memberships:   make(map[string]Membership),
	}
}

func (m *Memory) CreateLevel(ctx context.Context, level *Level) error {
	if level == nil || level.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[level.ID]; ok {
		return ErrConflict
	}
	m.levels[level.ID] = *level
	return nil
}

func (m *Memory) GetLevel(ctx context.Context, id string) (*Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	level, ok := m.levels[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := level
	return &out, nil
}

func (m *Memory) FindLevelByName(ctx context.Context, name string) (*Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, level := range m.levels {
		if level.Name == name {
			out := level
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListLevels(ctx context.Context) ([]*Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Level, 0, len(m.levels))
	for _, level := range m.levels {
		l := level
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumericalValue < out[j].NumericalValue })
	return out, nil
}

func (m *Memory) CreateRelationship(ctx context.Context, rel *Relationship) error {
	if rel == nil || rel.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.relationships {
		if samePair(existing, *rel) {
			return ErrRelationshipExists
		}
	}
	m.relationships[rel.ID] = *rel
	return nil
}

func (m *Memory) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.relationships[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rel
	return &out, nil
}

func (m *Memory) RelationshipBetween(ctx context.Context, orgA, orgB string) (*Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	probe := Relationship{SourceOrg: orgA, TargetOrg: orgB}
	for _, rel := range m.relationships {
		if samePair(rel, probe) {
			out := rel
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateRelationship(ctx context.Context, rel *Relationship) error {
	if rel == nil || rel.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.relationships[rel.ID]; !ok {
		return ErrNotFound
	}
	m.relationships[rel.ID] = *rel
	return nil
}

func (m *Memory) ListRelationshipsForOrg(ctx context.Context, orgID string) ([]*Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Relationship
	for _, rel := range m.relationships {
		if rel.Involves(orgID) {
			r := rel
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateGroup(ctx context.Context, group *Group) error {
	if group == nil || group.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group.ID]; ok {
		return ErrConflict
	}
	m.groups[group.ID] = *group
	m.groupOrder = append(m.groupOrder, group.ID)
	return nil
}

func (m *Memory) GetGroup(ctx context.Context, id string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := group
	return &out, nil
}

func (m *Memory) CreateMembership(ctx context.Context, membership *Membership) error {
	if membership == nil || membership.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := membershipKey(membership.GroupID, membership.Organization)
	if existing, ok := m.memberships[key]; ok {
		if existing.IsActive {
			return ErrAlreadyMember
		}
		return ErrFormerMember
	}
	m.memberships[key] = *membership
	return nil
}

func (m *Memory) GetMembership(ctx context.Context, groupID, orgID string) (*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	membership, ok := m.memberships[membershipKey(groupID, orgID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := membership
	return &out, nil
}

func (m *Memory) UpdateMembership(ctx context.Context, membership *Membership) error {
	if membership == nil || membership.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := membershipKey(membership.GroupID, membership.Organization)
	if _, ok := m.memberships[key]; !ok {
		return ErrNotFound
	}
	m.memberships[key] = *membership
	return nil
}

func (m *Memory) ListMemberships(ctx context.Context, groupID string) ([]*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Membership
	for _, membership := range m.memberships {
		if membership.GroupID == groupID {
			mm := membership
			out = append(out, &mm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) SharedTrustedGroups(ctx context.Context, orgA, orgB string) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var shared []*Group
	for _, groupID := range m.groupOrder {
		a, okA := m.memberships[membershipKey(groupID, orgA)]
		b, okB := m.memberships[membershipKey(groupID, orgB)]
		if okA && okB && a.Trusted() && b.Trusted() {
			group := m.groups[groupID]
			g := group
			shared = append(shared, &g)
		}
	}

	// Highest default trust level first; creation order (the iteration
	// order above) breaks ties.
	sort.SliceStable(shared, func(i, j int) bool {
		return m.levelValue(shared[i].DefaultTrustLevelID) > m.levelValue(shared[j].DefaultTrustLevelID)
	})
	return shared, nil
}

// levelValue requires m.mu to be held.
func (m *Memory) levelValue(levelID string) int {
	if level, ok := m.levels[levelID]; ok {
		return level.NumericalValue
	}
	return 0
}

func membershipKey(groupID, orgID string) string {
	return groupID + "/" + orgID
}

func samePair(a, b Relationship) bool {
	if a.SourceOrg == b.SourceOrg && a.TargetOrg == b.TargetOrg {
		return true
	}
	return a.SourceOrg == b.TargetOrg && a.TargetOrg == b.SourceOrg
}
