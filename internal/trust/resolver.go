package trust

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolver computes the effective trust between two organizations.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver constructs a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Resolve returns the effective trust between two organizations.
//
// Order: self short-circuit, then an effective bilateral relationship, then
// shared group membership. Trust is never transitive: A-B and B-C imply
// nothing about A-C. A pending, unapproved, or expired relationship resolves
// exactly like no relationship at all.
//
// Absence of trust is reported through the NoTrust resolution, not an error;
// the error return is reserved for store failures.
func (r *Resolver) Resolve(ctx context.Context, orgA, orgB string) (Resolution, error) {
	if orgA == "" || orgB == "" {
		return NoTrust(), fmt.Errorf("resolve trust: %w: empty organization id", ErrInvalidInput)
	}
	if orgA == orgB {
		return SelfResolution(), nil
	}

	rel, err := r.store.RelationshipBetween(ctx, orgA, orgB)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return NoTrust(), fmt.Errorf("resolve trust: lookup relationship: %w", err)
	}
	if rel != nil && rel.IsEffective(r.now()) {
		level, err := r.store.GetLevel(ctx, rel.TrustLevelID)
		if err != nil {
			return NoTrust(), fmt.Errorf("resolve trust: load level %s: %w", rel.TrustLevelID, err)
		}
		kind := KindBilateral
		if rel.RelationshipType == RelationshipCommunity {
			kind = KindCommunity
		}
		return Resolution{Kind: kind, Level: *level}, nil
	}

	groups, err := r.store.SharedTrustedGroups(ctx, orgA, orgB)
	if err != nil {
		return NoTrust(), fmt.Errorf("resolve trust: shared groups: %w", err)
	}
	if len(groups) > 0 {
		// Store contract orders by default trust level descending with a
		// deterministic tie-break, so the first entry wins.
		group := groups[0]
		level, err := r.store.GetLevel(ctx, group.DefaultTrustLevelID)
		if err != nil {
			return NoTrust(), fmt.Errorf("resolve trust: load group level %s: %w", group.DefaultTrustLevelID, err)
		}
		return Resolution{Kind: KindCommunity, Level: *level, GroupID: group.ID}, nil
	}

	return NoTrust(), nil
}

// CanAccess decides whether the requesting organization may perform an
// operation needing the given access level against the owner's resources.
// The gate is monotonic: a grant at contribute implies read and subscribe.
func (r *Resolver) CanAccess(ctx context.Context, requestingOrg, ownerOrg string, required AccessLevel) (bool, error) {
	if requestingOrg == ownerOrg {
		return true, nil
	}
	res, err := r.Resolve(ctx, requestingOrg, ownerOrg)
	if err != nil {
		return false, err
	}
	if !res.Trusted() {
		return false, nil
	}
	return res.Level.DefaultAccess >= required, nil
}
