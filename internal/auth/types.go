package auth

import (
	"context"
	"time"
)

// Organization is a platform tenant. The exchange core treats it as immutable
// reference data: everything else refers to organizations by ID only.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal identifies the organization a request acts for.
type Principal struct {
	OrgID   string
	OrgName string
}

// OrganizationStore manages organization reference records.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
}
