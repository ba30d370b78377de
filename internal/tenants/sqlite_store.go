package tenants

import (
	"context"
	"database/sql"
	"errors"
)

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the tenants table in the given DB and returns
// a new store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			infra_program_input BLOB
		);
	`)
	return err
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Save(ctx context.Context, t Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, status, infra_program_input)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			status = excluded.status,
			infra_program_input = excluded.infra_program_input`,
		t.ID, t.Slug, string(t.Status), []byte(t.InfraProgramInput),
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, status, infra_program_input FROM tenants WHERE id = ?`, id)

	t, err := scanTenant(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, status, infra_program_input
		FROM tenants
		WHERE status = ? AND infra_program_input IS NOT NULL AND length(infra_program_input) > 0
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

func scanTenant(scan func(dest ...any) error) (Tenant, error) {
	var (
		t      Tenant
		status string
		input  []byte
	)
	if err := scan(&t.ID, &t.Slug, &status, &input); err != nil {
		return Tenant{}, err
	}
	t.Status = Status(status)
	t.InfraProgramInput = input
	return t, nil
}
