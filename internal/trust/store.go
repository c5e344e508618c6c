package trust

import "context"

// Store describes persistence operations required by the trust subsystem.
// Implementations must make CreateRelationship and CreateMembership safe
// against concurrent duplicates: exactly one of two racing calls for the
// same pair succeeds, the other observes a conflict.
type Store interface {
	// Trust levels.
	CreateLevel(ctx context.Context, level *Level) error
	GetLevel(ctx context.Context, id string) (*Level, error)
	FindLevelByName(ctx context.Context, name string) (*Level, error)
	ListLevels(ctx context.Context) ([]*Level, error)

	// Relationships. RelationshipBetween looks the pair up unordered and
	// returns rows of any status; effectiveness is the caller's read-time
	// concern.
	CreateRelationship(ctx context.Context, rel *Relationship) error
	GetRelationship(ctx context.Context, id string) (*Relationship, error)
	RelationshipBetween(ctx context.Context, orgA, orgB string) (*Relationship, error)
	UpdateRelationship(ctx context.Context, rel *Relationship) error
	ListRelationshipsForOrg(ctx context.Context, orgID string) ([]*Relationship, error)

	// Groups and memberships. SharedTrustedGroups returns groups in which
	// both orgs hold an active non-pending membership, ordered by the
	// group's default trust level (highest numerical value first, ties by
	// group creation order).
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	CreateMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, groupID, orgID string) (*Membership, error)
	UpdateMembership(ctx context.Context, m *Membership) error
	ListMemberships(ctx context.Context, groupID string) ([]*Membership, error)
	SharedTrustedGroups(ctx context.Context, orgA, orgB string) ([]*Group, error)
}
