package trust

import (
	"context"
	"testing"
	"time"

	"crispintel.org/internal/ids"
)

func newLevel(t *testing.T, store Store, name string, value int, access AccessLevel) *Level {
	t.Helper()
	level := &Level{
		ID:                   ids.New(),
		Name:                 name,
		NumericalValue:       value,
		DefaultAnonymization: "partial",
		DefaultAccess:        access,
		CreatedAt:            time.Now().UTC(),
	}
	if err := store.CreateLevel(context.Background(), level); err != nil {
		t.Fatalf("create level %s: %v", name, err)
	}
	return level
}

func activeRelationship(t *testing.T, store Store, a, b, levelID string) *Relationship {
	t.Helper()
	now := time.Now().UTC()
	rel := &Relationship{
		ID:               ids.New(),
		SourceOrg:        a,
		TargetOrg:        b,
		TrustLevelID:     levelID,
		RelationshipType: RelationshipBilateral,
		Status:           StatusActive,
		ApprovedBySource: true,
		ApprovedByTarget: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.CreateRelationship(context.Background(), rel); err != nil {
		t.Fatalf("create relationship: %v", err)
	}
	return rel
}

func TestResolveSelfIsMaximalTrust(t *testing.T) {
	r := NewResolver(NewMemory())
	res, err := r.Resolve(context.Background(), "org-a", "org-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != KindSelf {
		t.Fatalf("expected self resolution, got %s", res.Kind)
	}
	if res.Level.NumericalValue != 100 || res.Level.DefaultAccess != AccessFull {
		t.Fatalf("self trust not maximal: %+v", res.Level)
	}
}

func TestResolveBilateral(t *testing.T) {
	store := NewMemory()
	level := newLevel(t, store, "Standard", 50, AccessSubscribe)
	activeRelationship(t, store, "org-a", "org-b", level.ID)

	r := NewResolver(store)
	for _, pair := range [][2]string{{"org-a", "org-b"}, {"org-b", "org-a"}} {
		res, err := r.Resolve(context.Background(), pair[0], pair[1])
		if err != nil {
			t.Fatalf("resolve %v: %v", pair, err)
		}
		if res.Kind != KindBilateral {
			t.Fatalf("expected bilateral, got %s", res.Kind)
		}
		if res.Level.Name != "Standard" {
			t.Fatalf("unexpected level: %+v", res.Level)
		}
	}
}

func TestResolveIsNotTransitive(t *testing.T) {
	store := NewMemory()
	level := newLevel(t, store, "Standard", 50, AccessSubscribe)
	activeRelationship(t, store, "org-a", "org-b", level.ID)
	activeRelationship(t, store, "org-b", "org-c", level.ID)

	r := NewResolver(store)
	res, err := r.Resolve(context.Background(), "org-a", "org-c")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Trusted() {
		t.Fatalf("trust must not be transitive, got %+v", res)
	}
}

func TestResolveIgnoresHalfApprovedRelationship(t *testing.T) {
	store := NewMemory()
	level := newLevel(t, store, "Standard", 50, AccessSubscribe)
	now := time.Now().UTC()
	rel := &Relationship{
		ID:               ids.New(),
		SourceOrg:        "org-a",
		TargetOrg:        "org-b",
		TrustLevelID:     level.ID,
		Status:           StatusActive, // status alone is not enough
		ApprovedBySource: true,
		ApprovedByTarget: false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.CreateRelationship(context.Background(), rel); err != nil {
		t.Fatalf("create relationship: %v", err)
	}

	res, err := NewResolver(store).Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Trusted() {
		t.Fatalf("half-approved relationship must resolve as no trust, got %+v", res)
	}
}

func TestResolveExpiredRelationship(t *testing.T) {
	store := NewMemory()
	level := newLevel(t, store, "Standard", 50, AccessSubscribe)
	rel := activeRelationship(t, store, "org-a", "org-b", level.ID)

	past := time.Now().UTC().Add(-time.Hour)
	rel.ValidUntil = &past
	if err := store.UpdateRelationship(context.Background(), rel); err != nil {
		t.Fatalf("update relationship: %v", err)
	}

	res, err := NewResolver(store).Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Trusted() {
		t.Fatalf("expired relationship must resolve as no trust, got %+v", res)
	}
}

func TestResolveCommunityTrust(t *testing.T) {
	store := NewMemory()
	svc := NewService(store)
	ctx := context.Background()

	high := newLevel(t, store, "High Trust", 75, AccessContribute)
	group, err := svc.CreateGroup(ctx, "org-c", "Financial ISAC", GroupSector, true, false, high.ID)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := svc.JoinGroup(ctx, group.ID, "org-d", ""); err != nil {
		t.Fatalf("join group: %v", err)
	}

	res, err := NewResolver(store).Resolve(ctx, "org-c", "org-d")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != KindCommunity {
		t.Fatalf("expected community trust, got %s", res.Kind)
	}
	if res.Level.Name != "High Trust" || res.GroupID != group.ID {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolvePicksHighestSharedGroup(t *testing.T) {
	store := NewMemory()
	svc := NewService(store)
	ctx := context.Background()

	low := newLevel(t, store, "Low", 25, AccessRead)
	high := newLevel(t, store, "High", 75, AccessContribute)

	lowGroup, err := svc.CreateGroup(ctx, "org-a", "Low Community", GroupCommunity, true, false, low.ID)
	if err != nil {
		t.Fatalf("create low group: %v", err)
	}
	highGroup, err := svc.CreateGroup(ctx, "org-a", "High Community", GroupCommunity, true, false, high.ID)
	if err != nil {
		t.Fatalf("create high group: %v", err)
	}
	for _, g := range []string{lowGroup.ID, highGroup.ID} {
		if _, err := svc.JoinGroup(ctx, g, "org-b", ""); err != nil {
			t.Fatalf("join %s: %v", g, err)
		}
	}

	res, err := NewResolver(store).Resolve(ctx, "org-a", "org-b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.GroupID != highGroup.ID || res.Level.Name != "High" {
		t.Fatalf("expected the higher-trust group to win: %+v", res)
	}
}

func TestResolvePendingMembershipDoesNotCount(t *testing.T) {
	store := NewMemory()
	svc := NewService(store)
	ctx := context.Background()

	level := newLevel(t, store, "High", 75, AccessContribute)
	group, err := svc.CreateGroup(ctx, "org-a", "Vetted Circle", GroupCommunity, false, true, level.ID)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := svc.JoinGroup(ctx, group.ID, "org-b", ""); err != nil {
		t.Fatalf("join group: %v", err)
	}

	// org-b is pending until an administrator approves.
	res, err := NewResolver(store).Resolve(ctx, "org-a", "org-b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Trusted() {
		t.Fatalf("pending membership must not grant trust: %+v", res)
	}

	if _, err := svc.ApproveMember(ctx, group.ID, "org-b", "org-a"); err != nil {
		t.Fatalf("approve member: %v", err)
	}
	res, err = NewResolver(store).Resolve(ctx, "org-a", "org-b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != KindCommunity {
		t.Fatalf("expected community trust after approval, got %+v", res)
	}
}

func TestCanAccessOrdering(t *testing.T) {
	store := NewMemory()
	level := newLevel(t, store, "Contribute", 75, AccessContribute)
	activeRelationship(t, store, "org-a", "org-b", level.ID)

	r := NewResolver(store)
	ctx := context.Background()

	// Monotonic: a contribute grant implies everything below it.
	for _, required := range []AccessLevel{AccessNone, AccessRead, AccessSubscribe, AccessContribute} {
		ok, err := r.CanAccess(ctx, "org-b", "org-a", required)
		if err != nil {
			t.Fatalf("CanAccess(%s): %v", required, err)
		}
		if !ok {
			t.Fatalf("expected %s to be granted under a contribute-level trust", required)
		}
	}
	ok, err := r.CanAccess(ctx, "org-b", "org-a", AccessFull)
	if err != nil {
		t.Fatalf("CanAccess(full): %v", err)
	}
	if ok {
		t.Fatal("full must be denied under a contribute-level trust")
	}
}

func TestCanAccessOwnerAndStranger(t *testing.T) {
	r := NewResolver(NewMemory())
	ctx := context.Background()

	ok, err := r.CanAccess(ctx, "org-a", "org-a", AccessFull)
	if err != nil || !ok {
		t.Fatalf("owner must always pass: ok=%v err=%v", ok, err)
	}
	ok, err = r.CanAccess(ctx, "org-x", "org-a", AccessRead)
	if err != nil {
		t.Fatalf("CanAccess: %v", err)
	}
	if ok {
		t.Fatal("stranger must be denied")
	}
}
