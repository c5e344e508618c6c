package pg

import (
	"context"
	"database/sql"
	"errors"

	"crispintel.org/internal/auth"
)

func (s *Store) Create(ctx context.Context, org *auth.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (id, name, created_at)
		values ($1, $2, $3)
	`, org.ID, org.Name, org.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*auth.Organization, error) {
	var org auth.Organization
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at from organizations where id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *Store) List(ctx context.Context) ([]*auth.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, created_at from organizations order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Organization
	for rows.Next() {
		var org auth.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &org)
	}
	return result, rows.Err()
}
