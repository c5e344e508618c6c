package trust

import "errors"

var (
	ErrNotFound     = errors.New("trust: not found")
	ErrInvalidInput = errors.New("trust: invalid input")
	ErrConflict     = errors.New("trust: already exists")

	// ErrSelfRelationship rejects a relationship whose two sides are the
	// same organization.
	ErrSelfRelationship = errors.New("trust: organization cannot form a relationship with itself")

	// ErrRelationshipExists rejects a second relationship for an org pair.
	ErrRelationshipExists = errors.New("trust: a relationship already exists for this pair")

	// ErrAlreadyMember rejects joining a group the org is an active member of.
	ErrAlreadyMember = errors.New("trust: organization is already an active member of this group")

	// ErrFormerMember flags that an inactive membership record exists; the
	// caller must reactivate rather than insert.
	ErrFormerMember = errors.New("trust: organization has a former membership record for this group")

	// ErrNotMember is returned for operations requiring an active membership.
	ErrNotMember = errors.New("trust: organization is not a member of this group")

	// ErrNotAdministrator is returned for group operations reserved to
	// administrators.
	ErrNotAdministrator = errors.New("trust: organization does not administer this group")

	// ErrNotParticipant is returned when an org acts on a relationship it is
	// not a side of.
	ErrNotParticipant = errors.New("trust: organization is not a side of this relationship")
)
