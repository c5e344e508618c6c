package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crispintel.org/internal/intel"
)

// --- collections ---

func (s *Store) CreateCollection(ctx context.Context, c *intel.Collection) error {
	mediaTypes, err := json.Marshal(c.MediaTypes)
	if err != nil {
		return fmt.Errorf("marshal media types: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into collections
			(id, owner_org, title, description, alias, can_read, can_write, media_types, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.OwnerOrg, c.Title, c.Description, c.Alias, c.CanRead, c.CanWrite, mediaTypes, c.CreatedAt)
	if isUniqueViolation(err) {
		return intel.ErrConflict
	}
	return err
}

const collectionColumns = `id, owner_org, title, description, alias, can_read, can_write, media_types, created_at`

func scanCollection(row interface{ Scan(...any) error }) (*intel.Collection, error) {
	var (
		c        intel.Collection
		rawMedia []byte
	)
	err := row.Scan(&c.ID, &c.OwnerOrg, &c.Title, &c.Description, &c.Alias,
		&c.CanRead, &c.CanWrite, &rawMedia, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(rawMedia) > 0 {
		if err := json.Unmarshal(rawMedia, &c.MediaTypes); err != nil {
			return nil, fmt.Errorf("decode media types: %w", err)
		}
	}
	return &c, nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (*intel.Collection, error) {
	c, err := scanCollection(s.db.QueryRowContext(ctx,
		`select `+collectionColumns+` from collections where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, intel.ErrNotFound
	}
	return c, err
}

func (s *Store) ListCollectionsByOrg(ctx context.Context, orgID string) ([]*intel.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+collectionColumns+` from collections where owner_org = $1 order by created_at asc`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*intel.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- objects ---

// UpsertObject inserts or, for a known stix_id, refreshes raw_data and
// modified. The row lock serializes concurrent writes to the same id, and
// the ownership check happens under it so a racing insert from another org
// fails rather than silently rewriting somebody else's object.
func (s *Store) UpsertObject(ctx context.Context, obj *intel.Object) (bool, error) {
	raw, err := json.Marshal(obj.Raw)
	if err != nil {
		return false, fmt.Errorf("marshal object: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var sourceOrg string
	err = tx.QueryRowContext(ctx,
		`select source_org from stix_objects where stix_id = $1 for update`, obj.StixID).Scan(&sourceOrg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			insert into stix_objects
				(stix_id, stix_type, spec_version, created, modified, source_org, raw_data)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, obj.StixID, obj.StixType, obj.SpecVersion, obj.Created, obj.Modified, obj.SourceOrg, raw); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	case sourceOrg != obj.SourceOrg:
		return false, intel.ErrWrongOwner
	default:
		if _, err := tx.ExecContext(ctx, `
			update stix_objects set raw_data = $2, modified = $3 where stix_id = $1
		`, obj.StixID, raw, obj.Modified); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}
}

const objectColumns = `stix_id, stix_type, spec_version, created, modified, source_org, raw_data`

func scanObject(row interface{ Scan(...any) error }, obj *intel.Object) error {
	var raw []byte
	err := row.Scan(&obj.StixID, &obj.StixType, &obj.SpecVersion, &obj.Created, &obj.Modified, &obj.SourceOrg, &raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &obj.Raw)
}

func (s *Store) GetObject(ctx context.Context, stixID string) (*intel.Object, error) {
	var obj intel.Object
	err := scanObject(s.db.QueryRowContext(ctx,
		`select `+objectColumns+` from stix_objects where stix_id = $1`, stixID), &obj)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, intel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (s *Store) AddToCollection(ctx context.Context, collectionID, stixID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into collection_objects (collection_id, stix_id, date_added)
		values ($1, $2, $3)
		on conflict (collection_id, stix_id) do nothing
	`, collectionID, stixID, at)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return false, intel.ErrNotFound
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) GetRecord(ctx context.Context, collectionID, stixID string) (*intel.Record, error) {
	var rec intel.Record
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		select o.stix_id, o.stix_type, o.spec_version, o.created, o.modified, o.source_org, o.raw_data, co.date_added
		from collection_objects co
		join stix_objects o on o.stix_id = co.stix_id
		where co.collection_id = $1 and co.stix_id = $2
	`, collectionID, stixID).Scan(&rec.StixID, &rec.StixType, &rec.SpecVersion,
		&rec.Created, &rec.Modified, &rec.SourceOrg, &raw, &rec.DateAdded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, intel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &rec.Raw); err != nil {
		return nil, err
	}
	return &rec, nil
}

// recordQuery builds the filtered listing query. One extra row beyond the
// limit signals that more pages exist.
func recordQuery(collectionID string, f intel.Filter) (string, []any) {
	var (
		where = []string{"co.collection_id = $1"}
		args  = []any{collectionID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.AddedAfter != nil {
		where = append(where, "co.date_added > "+arg(*f.AddedAfter))
	}
	if len(f.Types) > 0 {
		where = append(where, "o.stix_type = any("+arg(f.Types)+")")
	}
	if len(f.IDs) > 0 {
		where = append(where, "o.stix_id = any("+arg(f.IDs)+")")
	}
	if len(f.SpecVersions) > 0 {
		where = append(where, "o.spec_version = any("+arg(f.SpecVersions)+")")
	}

	query := `
		select o.stix_id, o.stix_type, o.spec_version, o.created, o.modified, o.source_org, o.raw_data, co.date_added
		from collection_objects co
		join stix_objects o on o.stix_id = co.stix_id
		where ` + strings.Join(where, " and ") + `
		order by co.date_added asc, o.stix_id asc
		limit ` + arg(f.Limit+1) + ` offset ` + arg(f.Offset)
	return query, args
}

func (s *Store) ListRecords(ctx context.Context, collectionID string, f intel.Filter) ([]intel.Record, bool, error) {
	query, args := recordQuery(collectionID, f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var records []intel.Record
	for rows.Next() {
		var rec intel.Record
		var raw []byte
		if err := rows.Scan(&rec.StixID, &rec.StixType, &rec.SpecVersion,
			&rec.Created, &rec.Modified, &rec.SourceOrg, &raw, &rec.DateAdded); err != nil {
			return nil, false, err
		}
		if err := json.Unmarshal(raw, &rec.Raw); err != nil {
			return nil, false, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	more := len(records) > f.Limit
	if more {
		records = records[:f.Limit]
	}
	return records, more, nil
}

func (s *Store) Manifest(ctx context.Context, collectionID string, f intel.Filter) ([]intel.ManifestEntry, bool, error) {
	records, more, err := s.ListRecords(ctx, collectionID, f)
	if err != nil {
		return nil, false, err
	}
	entries := make([]intel.ManifestEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, intel.ManifestEntry{
			ID:        rec.StixID,
			DateAdded: rec.DateAdded,
			Version:   rec.Modified.UTC().Format(time.RFC3339),
			MediaType: intel.MediaTypeStix,
		})
	}
	return entries, more, nil
}
