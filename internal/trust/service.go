package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crispintel.org/internal/ids"
)

// Service implements the relationship and group lifecycle workflows.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs the lifecycle service.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CreateRelationship starts the two-step workflow: the new relationship is
// pending with only the initiating side approved. It activates once the
// other side approves.
func (s *Service) CreateRelationship(ctx context.Context, sourceOrg, targetOrg, trustLevelID string, relType RelationshipType, validUntil *time.Time) (*Relationship, error) {
	sourceOrg = strings.TrimSpace(sourceOrg)
	targetOrg = strings.TrimSpace(targetOrg)
	if sourceOrg == "" || targetOrg == "" {
		return nil, fmt.Errorf("create relationship: %w: both organizations are required", ErrInvalidInput)
	}
	if sourceOrg == targetOrg {
		return nil, ErrSelfRelationship
	}
	if _, err := s.store.GetLevel(ctx, trustLevelID); err != nil {
		return nil, fmt.Errorf("create relationship: trust level %s: %w", trustLevelID, err)
	}
	if relType == "" {
		relType = RelationshipBilateral
	}

	now := s.now()
	rel := &Relationship{
		ID:               ids.New(),
		SourceOrg:        sourceOrg,
		TargetOrg:        targetOrg,
		TrustLevelID:     trustLevelID,
		RelationshipType: relType,
		Status:           StatusPending,
		ApprovedBySource: true,
		ValidUntil:       validUntil,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// ApproveRelationship records one side's approval. When both sides have
// approved, the relationship becomes active.
func (s *Service) ApproveRelationship(ctx context.Context, relationshipID, orgID string) (*Relationship, error) {
	rel, err := s.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.Involves(orgID) {
		return nil, ErrNotParticipant
	}
	if rel.Status == StatusRevoked {
		return nil, fmt.Errorf("approve relationship: %w: relationship is revoked", ErrInvalidInput)
	}

	switch orgID {
	case rel.SourceOrg:
		rel.ApprovedBySource = true
	case rel.TargetOrg:
		rel.ApprovedByTarget = true
	}
	if rel.ApprovedBySource && rel.ApprovedByTarget {
		rel.Status = StatusActive
	}
	rel.UpdatedAt = s.now()
	if err := s.store.UpdateRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// RevokeRelationship ends a relationship. Either side may revoke.
func (s *Service) RevokeRelationship(ctx context.Context, relationshipID, orgID string) (*Relationship, error) {
	rel, err := s.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.Involves(orgID) {
		return nil, ErrNotParticipant
	}
	rel.Status = StatusRevoked
	rel.UpdatedAt = s.now()
	if err := s.store.UpdateRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// CreateGroup founds a community; the founder becomes its first
// administrator member.
func (s *Service) CreateGroup(ctx context.Context, founderOrg, name string, groupType GroupType, isPublic, requiresApproval bool, defaultLevelID string) (*Group, error) {
	founderOrg = strings.TrimSpace(founderOrg)
	name = strings.TrimSpace(name)
	if founderOrg == "" || name == "" {
		return nil, fmt.Errorf("create group: %w: founder and name are required", ErrInvalidInput)
	}
	if _, err := s.store.GetLevel(ctx, defaultLevelID); err != nil {
		return nil, fmt.Errorf("create group: trust level %s: %w", defaultLevelID, err)
	}
	if groupType == "" {
		groupType = GroupCommunity
	}

	now := s.now()
	group := &Group{
		ID:                  ids.New(),
		Name:                name,
		GroupType:           groupType,
		IsPublic:            isPublic,
		RequiresApproval:    requiresApproval,
		DefaultTrustLevelID: defaultLevelID,
		CreatedBy:           founderOrg,
		CreatedAt:           now,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	founder := &Membership{
		ID:             ids.New(),
		GroupID:        group.ID,
		Organization:   founderOrg,
		MembershipType: MembershipAdministrator,
		IsActive:       true,
		JoinedAt:       now,
	}
	if err := s.store.CreateMembership(ctx, founder); err != nil {
		return nil, fmt.Errorf("create group: founder membership: %w", err)
	}
	return group, nil
}

// JoinGroup adds an organization to a group. A second join for the same
// (group, org) pair fails: ErrAlreadyMember when the existing record is
// active, ErrFormerMember when an inactive record exists. Groups requiring
// approval admit the org in the pending state.
func (s *Service) JoinGroup(ctx context.Context, groupID, orgID, invitedBy string) (*Membership, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetMembership(ctx, groupID, orgID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if existing != nil {
		if existing.IsActive {
			return nil, ErrAlreadyMember
		}
		return nil, ErrFormerMember
	}

	memberType := MembershipMember
	if group.RequiresApproval {
		memberType = MembershipPending
	}
	m := &Membership{
		ID:             ids.New(),
		GroupID:        groupID,
		Organization:   orgID,
		MembershipType: memberType,
		IsActive:       true,
		InvitedBy:      strings.TrimSpace(invitedBy),
		JoinedAt:       s.now(),
	}
	// A concurrent join may win the race between the lookup above and this
	// insert; the store then reports the duplicate and we surface it as-is.
	if err := s.store.CreateMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ApproveMember moves a pending membership to full member. Administrators
// only.
func (s *Service) ApproveMember(ctx context.Context, groupID, orgID, approverOrg string) (*Membership, error) {
	if err := s.requireAdministrator(ctx, groupID, approverOrg); err != nil {
		return nil, err
	}
	m, err := s.store.GetMembership(ctx, groupID, orgID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive || m.MembershipType != MembershipPending {
		return nil, fmt.Errorf("approve member: %w: membership is not pending", ErrInvalidInput)
	}
	m.MembershipType = MembershipMember
	if err := s.store.UpdateMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// LeaveGroup deactivates the organization's membership.
func (s *Service) LeaveGroup(ctx context.Context, groupID, orgID string) error {
	m, err := s.store.GetMembership(ctx, groupID, orgID)
	if err != nil {
		if isNotFound(err) {
			return ErrNotMember
		}
		return err
	}
	if !m.IsActive {
		return ErrNotMember
	}
	now := s.now()
	m.IsActive = false
	m.LeftAt = &now
	return s.store.UpdateMembership(ctx, m)
}

// PromoteMember raises an active member to administrator. Administrators
// only.
func (s *Service) PromoteMember(ctx context.Context, groupID, orgID, actorOrg string) (*Membership, error) {
	if err := s.requireAdministrator(ctx, groupID, actorOrg); err != nil {
		return nil, err
	}
	m, err := s.store.GetMembership(ctx, groupID, orgID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	if !m.IsActive || m.MembershipType != MembershipMember {
		return nil, fmt.Errorf("promote member: %w: requires an active full member", ErrInvalidInput)
	}
	m.MembershipType = MembershipAdministrator
	if err := s.store.UpdateMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) requireAdministrator(ctx context.Context, groupID, orgID string) error {
	m, err := s.store.GetMembership(ctx, groupID, orgID)
	if err != nil {
		if isNotFound(err) {
			return ErrNotAdministrator
		}
		return err
	}
	if !m.IsActive || m.MembershipType != MembershipAdministrator {
		return ErrNotAdministrator
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
