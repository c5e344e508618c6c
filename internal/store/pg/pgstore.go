// Package pg is the PostgreSQL persistence layer. One Store implements the
// organization, trust and collection store interfaces over a shared pool.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crispintel.org/internal/auth"
	"crispintel.org/internal/intel"
	"crispintel.org/internal/trust"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var (
	_ auth.OrganizationStore = (*Store)(nil)
	_ trust.Store            = (*Store)(nil)
	_ intel.Store            = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrUniqueViolation
}
