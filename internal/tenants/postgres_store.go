package tenants

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver. The caller is
// responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			infra_program_input BYTEA
		);
	`)
	return err
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Save(ctx context.Context, t Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, status, infra_program_input)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			status = EXCLUDED.status,
			infra_program_input = EXCLUDED.infra_program_input`,
		t.ID, t.Slug, string(t.Status), []byte(t.InfraProgramInput),
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, status, infra_program_input FROM tenants WHERE id = $1`, id)

	t, err := scanTenant(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, status, infra_program_input
		FROM tenants
		WHERE status = $1 AND infra_program_input IS NOT NULL AND length(infra_program_input) > 0
		ORDER BY id`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
