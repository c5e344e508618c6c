// Package trust models the relationships between organizations and resolves
// the effective trust level that governs what one organization may see of
// another's intelligence.
package trust

import (
	"fmt"
	"strings"
	"time"
)

// AccessLevel is a totally ordered grant ladder.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessSubscribe
	AccessContribute
	AccessFull
)

var accessNames = map[AccessLevel]string{
	AccessNone:       "none",
	AccessRead:       "read",
	AccessSubscribe:  "subscribe",
	AccessContribute: "contribute",
	AccessFull:       "full",
}

func (a AccessLevel) String() string {
	if name, ok := accessNames[a]; ok {
		return name
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// ParseAccessLevel maps a stored name back to a level. Unknown names fail.
func ParseAccessLevel(name string) (AccessLevel, error) {
	for lvl, n := range accessNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return lvl, nil
		}
	}
	return AccessNone, fmt.Errorf("unknown access level %q", name)
}

// Level is a named trust policy. Immutable once referenced by an active
// relationship: changing policy means minting a new level.
type Level struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	NumericalValue       int         `json:"numerical_value"` // 0..100
	DefaultAnonymization string      `json:"default_anonymization_level"`
	DefaultAccess        AccessLevel `json:"default_access_level"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Trust converts the stored 0..100 score to the [0,1] scale the
// anonymization thresholds use.
func (l Level) Trust() float64 {
	return float64(l.NumericalValue) / 100.0
}

// RelationshipType tags how two organizations are linked.
type RelationshipType string

const (
	RelationshipBilateral    RelationshipType = "bilateral"
	RelationshipCommunity    RelationshipType = "community"
	RelationshipHierarchical RelationshipType = "hierarchical"
	RelationshipFederation   RelationshipType = "federation"
)

// RelationshipStatus is the lifecycle state of a relationship.
type RelationshipStatus string

const (
	StatusPending RelationshipStatus = "pending"
	StatusActive  RelationshipStatus = "active"
	StatusRevoked RelationshipStatus = "revoked"
)

// Relationship links two organizations at a trust level. At most one
// relationship exists per unordered org pair.
type Relationship struct {
	ID               string             `json:"id"`
	SourceOrg        string             `json:"source_org"`
	TargetOrg        string             `json:"target_org"`
	TrustLevelID     string             `json:"trust_level_id"`
	RelationshipType RelationshipType   `json:"relationship_type"`
	Status           RelationshipStatus `json:"status"`
	ApprovedBySource bool               `json:"approved_by_source"`
	ApprovedByTarget bool               `json:"approved_by_target"`
	ValidUntil       *time.Time         `json:"valid_until,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsEffective reports whether the relationship grants trust at the given
// instant: active, mutually approved, not expired. Expiry is evaluated here
// at read time; nothing sweeps lapsed rows.
func (r Relationship) IsEffective(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if !r.ApprovedBySource || !r.ApprovedByTarget {
		return false
	}
	if r.ValidUntil != nil && !r.ValidUntil.After(now) {
		return false
	}
	return true
}

// Involves reports whether the org is one of the two sides.
func (r Relationship) Involves(orgID string) bool {
	return r.SourceOrg == orgID || r.TargetOrg == orgID
}

// GroupType categorizes a trust community.
type GroupType string

const (
	GroupSector    GroupType = "sector"
	GroupGeography GroupType = "geography"
	GroupPurpose   GroupType = "purpose"
	GroupCustom    GroupType = "custom"
	GroupCommunity GroupType = "community"
)

// Group is a named community whose active members trust each other at the
// group's default level.
type Group struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	GroupType           GroupType `json:"group_type"`
	IsPublic            bool      `json:"is_public"`
	RequiresApproval    bool      `json:"requires_approval"`
	DefaultTrustLevelID string    `json:"default_trust_level_id"`
	CreatedBy           string    `json:"created_by"`
	CreatedAt           time.Time `json:"created_at"`
}

// MembershipType distinguishes member roles inside a group.
type MembershipType string

const (
	MembershipAdministrator MembershipType = "administrator"
	MembershipMember        MembershipType = "member"
	MembershipPending       MembershipType = "pending"
)

// Membership joins an organization to a group. At most one row exists per
// (group, org); an organization that left keeps its inactive row, and a
// rejoin attempt fails with ErrFormerMember until an administrator
// reinstates it.
type Membership struct {
	ID             string         `json:"id"`
	GroupID        string         `json:"group_id"`
	Organization   string         `json:"organization"`
	MembershipType MembershipType `json:"membership_type"`
	IsActive       bool           `json:"is_active"`
	InvitedBy      string         `json:"invited_by,omitempty"`
	JoinedAt       time.Time      `json:"joined_at"`
	LeftAt         *time.Time     `json:"left_at,omitempty"`
}

// Trusted reports whether this membership counts for community trust:
// active and beyond the pending stage.
func (m Membership) Trusted() bool {
	return m.IsActive && (m.MembershipType == MembershipMember || m.MembershipType == MembershipAdministrator)
}

// ResolutionKind says which path produced a resolution.
type ResolutionKind string

const (
	KindNone      ResolutionKind = "none"
	KindSelf      ResolutionKind = "self"
	KindBilateral ResolutionKind = "bilateral"
	KindCommunity ResolutionKind = "community"
)

// Resolution is the outcome of resolving trust between two organizations.
// Absence of trust is an expected outcome, not an error: Kind==KindNone.
type Resolution struct {
	Kind  ResolutionKind
	Level Level
	// GroupID is set when Kind==KindCommunity.
	GroupID string
}

// Trusted reports whether any trust path was found.
func (r Resolution) Trusted() bool {
	return r.Kind != KindNone
}

// NoTrust is the sentinel resolution for unrelated organizations.
func NoTrust() Resolution {
	return Resolution{Kind: KindNone}
}

// SelfResolution is maximal trust an organization has in itself.
func SelfResolution() Resolution {
	return Resolution{
		Kind: KindSelf,
		Level: Level{
			Name:                 "Self",
			NumericalValue:       100,
			DefaultAnonymization: "none",
			DefaultAccess:        AccessFull,
		},
	}
}
