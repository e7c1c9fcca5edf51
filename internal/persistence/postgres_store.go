package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresInstanceStore struct {
	db *sql.DB
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresInstanceStore) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			custom_status TEXT NOT NULL DEFAULT '',
			input BYTEA,
			output BYTEA,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_instances_name_status ON instances(name, status);
	`)
	return err
}

func (p *PostgresInstanceStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO instances (id, name, status, custom_status, input, output, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		inst.ID,
		inst.Name,
		string(inst.Status),
		inst.CustomStatus,
		[]byte(inst.Input),
		[]byte(inst.Output),
		inst.Error,
		unixNano(inst.CreatedAt),
		unixNano(inst.UpdatedAt),
	)
	return err
}

func (p *PostgresInstanceStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE instances
		SET name          = $1,
		    status        = $2,
		    custom_status = $3,
		    input         = $4,
		    output        = $5,
		    error         = $6,
		    updated_at    = $7
		WHERE id = $8
	`,
		inst.Name,
		string(inst.Status),
		inst.CustomStatus,
		[]byte(inst.Input),
		[]byte(inst.Output),
		inst.Error,
		unixNano(inst.UpdatedAt),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

func (p *PostgresInstanceStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sqlInstanceColumns+` FROM instances WHERE id = $1`, id)

	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (p *PostgresInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `SELECT ` + sqlInstanceColumns + ` FROM instances`
	var args []any
	var clauses []string

	if filter.Name != "" {
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)+1))
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

func (p *PostgresInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()
	nowInt := now.UnixNano()

	res, err := p.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = $1, lease_expires_at = $2
		WHERE id = $3
		AND (
			lease_owner = ''
			OR lease_expires_at <= $4
			OR lease_owner = $5
		)`,
		owner, expires, instanceID, nowInt, owner,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := p.GetInstance(ctx, instanceID); err != nil {
		return false, err
	}
	return false, nil
}

func (p *PostgresInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = '', lease_expires_at = 0
		WHERE id = $1 AND lease_owner = $2`,
		instanceID, owner,
	)
	return err
}

// NewPostgresPersistence creates the PostgreSQL instance and history stores on db.
func NewPostgresPersistence(db *sql.DB) (Persistence, error) {
	instances, err := NewPostgresInstanceStore(db)
	if err != nil {
		return Persistence{}, err
	}
	history, err := NewPostgresHistoryStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Instances: instances, History: history, Close: db.Close}, nil
}
