package pg

import (
	"context"
	"database/sql"
	"errors"

	"crispintel.org/internal/trust"
)

// --- trust levels ---

func (s *Store) CreateLevel(ctx context.Context, level *trust.Level) error {
	_, err := s.db.ExecContext(ctx, `
		insert into trust_levels (id, name, numerical_value, default_anonymization, default_access, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, level.ID, level.Name, level.NumericalValue, level.DefaultAnonymization, level.DefaultAccess.String(), level.CreatedAt)
	if isUniqueViolation(err) {
		return trust.ErrConflict
	}
	return err
}

const levelColumns = `id, name, numerical_value, default_anonymization, default_access, created_at`

func scanLevel(row interface{ Scan(...any) error }) (*trust.Level, error) {
	var (
		level  trust.Level
		access string
	)
	if err := row.Scan(&level.ID, &level.Name, &level.NumericalValue, &level.DefaultAnonymization, &access, &level.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := trust.ParseAccessLevel(access)
	if err != nil {
		return nil, err
	}
	level.DefaultAccess = parsed
	return &level, nil
}

func (s *Store) GetLevel(ctx context.Context, id string) (*trust.Level, error) {
	level, err := scanLevel(s.db.QueryRowContext(ctx,
		`select `+levelColumns+` from trust_levels where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	return level, err
}

func (s *Store) FindLevelByName(ctx context.Context, name string) (*trust.Level, error) {
	level, err := scanLevel(s.db.QueryRowContext(ctx,
		`select `+levelColumns+` from trust_levels where lower(name) = lower($1)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	return level, err
}

func (s *Store) ListLevels(ctx context.Context) ([]*trust.Level, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+levelColumns+` from trust_levels order by numerical_value asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*trust.Level
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, level)
	}
	return result, rows.Err()
}

// --- relationships ---

const relColumns = `id, source_org, target_org, trust_level_id, relationship_type, status,
	approved_by_source, approved_by_target, valid_until, created_at, updated_at`

func scanRelationship(row interface{ Scan(...any) error }) (*trust.Relationship, error) {
	var (
		rel        trust.Relationship
		relType    string
		status     string
		validUntil sql.NullTime
	)
	err := row.Scan(&rel.ID, &rel.SourceOrg, &rel.TargetOrg, &rel.TrustLevelID, &relType, &status,
		&rel.ApprovedBySource, &rel.ApprovedByTarget, &validUntil, &rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rel.RelationshipType = trust.RelationshipType(relType)
	rel.Status = trust.RelationshipStatus(status)
	if validUntil.Valid {
		t := validUntil.Time
		rel.ValidUntil = &t
	}
	return &rel, nil
}

func (s *Store) CreateRelationship(ctx context.Context, rel *trust.Relationship) error {
	// The unique index on (least(source,target), greatest(source,target))
	// enforces one relationship per unordered pair under concurrency.
	_, err := s.db.ExecContext(ctx, `
		insert into trust_relationships
			(id, source_org, target_org, trust_level_id, relationship_type, status,
			 approved_by_source, approved_by_target, valid_until, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rel.ID, rel.SourceOrg, rel.TargetOrg, rel.TrustLevelID, string(rel.RelationshipType), string(rel.Status),
		rel.ApprovedBySource, rel.ApprovedByTarget, rel.ValidUntil, rel.CreatedAt, rel.UpdatedAt)
	if isUniqueViolation(err) {
		return trust.ErrRelationshipExists
	}
	return err
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*trust.Relationship, error) {
	rel, err := scanRelationship(s.db.QueryRowContext(ctx,
		`select `+relColumns+` from trust_relationships where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	return rel, err
}

func (s *Store) RelationshipBetween(ctx context.Context, orgA, orgB string) (*trust.Relationship, error) {
	rel, err := scanRelationship(s.db.QueryRowContext(ctx, `
		select `+relColumns+` from trust_relationships
		where (source_org = $1 and target_org = $2)
		   or (source_org = $2 and target_org = $1)
	`, orgA, orgB))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	return rel, err
}

func (s *Store) UpdateRelationship(ctx context.Context, rel *trust.Relationship) error {
	res, err := s.db.ExecContext(ctx, `
		update trust_relationships
		set trust_level_id = $2, relationship_type = $3, status = $4,
		    approved_by_source = $5, approved_by_target = $6, valid_until = $7, updated_at = $8
		where id = $1
	`, rel.ID, rel.TrustLevelID, string(rel.RelationshipType), string(rel.Status),
		rel.ApprovedBySource, rel.ApprovedByTarget, rel.ValidUntil, rel.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return trust.ErrNotFound
	}
	return nil
}

func (s *Store) ListRelationshipsForOrg(ctx context.Context, orgID string) ([]*trust.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+relColumns+` from trust_relationships
		where source_org = $1 or target_org = $1
		order by created_at asc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*trust.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

// --- groups and memberships ---

const groupColumns = `id, name, description, group_type, is_public, requires_approval,
	default_trust_level_id, created_by, created_at`

func scanGroup(row interface{ Scan(...any) error }) (*trust.Group, error) {
	var (
		group     trust.Group
		groupType string
	)
	err := row.Scan(&group.ID, &group.Name, &group.Description, &groupType, &group.IsPublic,
		&group.RequiresApproval, &group.DefaultTrustLevelID, &group.CreatedBy, &group.CreatedAt)
	if err != nil {
		return nil, err
	}
	group.GroupType = trust.GroupType(groupType)
	return &group, nil
}

func (s *Store) CreateGroup(ctx context.Context, group *trust.Group) error {
	_, err := s.db.ExecContext(ctx, `
		insert into trust_groups
			(id, name, description, group_type, is_public, requires_approval,
			 default_trust_level_id, created_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, group.ID, group.Name, group.Description, string(group.GroupType), group.IsPublic,
		group.RequiresApproval, group.DefaultTrustLevelID, group.CreatedBy, group.CreatedAt)
	if isUniqueViolation(err) {
		return trust.ErrConflict
	}
	return err
}

func (s *Store) GetGroup(ctx context.Context, id string) (*trust.Group, error) {
	group, err := scanGroup(s.db.QueryRowContext(ctx,
		`select `+groupColumns+` from trust_groups where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	return group, err
}

const membershipColumns = `id, group_id, organization, membership_type, is_active,
	coalesce(invited_by, ''), joined_at, left_at`

func scanMembership(row interface{ Scan(...any) error }) (*trust.Membership, error) {
	var (
		m      trust.Membership
		mType  string
		leftAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.GroupID, &m.Organization, &mType, &m.IsActive,
		&m.InvitedBy, &m.JoinedAt, &leftAt)
	if err != nil {
		return nil, err
	}
	m.MembershipType = trust.MembershipType(mType)
	if leftAt.Valid {
		t := leftAt.Time
		m.LeftAt = &t
	}
	return &m, nil
}

func (s *Store) CreateMembership(ctx context.Context, m *trust.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into trust_group_memberships
			(id, group_id, organization, membership_type, is_active, invited_by, joined_at, left_at)
		values ($1, $2, $3, $4, $5, nullif($6, ''), $7, $8)
	`, m.ID, m.GroupID, m.Organization, string(m.MembershipType), m.IsActive, m.InvitedBy, m.JoinedAt, m.LeftAt)
	if isUniqueViolation(err) {
		// The racing row may belong to an organization that already left;
		// that conflict is reported differently so callers can tell the
		// two apart.
		var active bool
		lookupErr := s.db.QueryRowContext(ctx, `
			select is_active from trust_group_memberships
			where group_id = $1 and organization = $2
		`, m.GroupID, m.Organization).Scan(&active)
		if lookupErr == nil && !active {
			return trust.ErrFormerMember
		}
		return trust.ErrAlreadyMember
	}
	return err
}

func (s *Store) GetMembership(ctx context.Context, groupID, orgID string) (*trust.Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		select `+membershipColumns+` from trust_group_memberships
		where group_id = $1 and organization = $2
	`, groupID, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	return m, err
}

func (s *Store) UpdateMembership(ctx context.Context, m *trust.Membership) error {
	res, err := s.db.ExecContext(ctx, `
		update trust_group_memberships
		set membership_type = $2, is_active = $3, left_at = $4
		where id = $1
	`, m.ID, string(m.MembershipType), m.IsActive, m.LeftAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return trust.ErrNotFound
	}
	return nil
}

func (s *Store) ListMemberships(ctx context.Context, groupID string) ([]*trust.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+membershipColumns+` from trust_group_memberships
		where group_id = $1
		order by joined_at asc
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*trust.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) SharedTrustedGroups(ctx context.Context, orgA, orgB string) ([]*trust.Group, error) {
	// Both sides must hold an active member or administrator row; pending
	// memberships grant nothing.
	rows, err := s.db.QueryContext(ctx, `
		select g.id, g.name, g.description, g.group_type, g.is_public, g.requires_approval,
		       g.default_trust_level_id, g.created_by, g.created_at
		from trust_groups g
		join trust_levels l on l.id = g.default_trust_level_id
		join trust_group_memberships ma on ma.group_id = g.id and ma.organization = $1
			and ma.is_active and ma.membership_type in ('member', 'administrator')
		join trust_group_memberships mb on mb.group_id = g.id and mb.organization = $2
			and mb.is_active and mb.membership_type in ('member', 'administrator')
		order by l.numerical_value desc, g.created_at asc
	`, orgA, orgB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*trust.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, group)
	}
	return result, rows.Err()
}
