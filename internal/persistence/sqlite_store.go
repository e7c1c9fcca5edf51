package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			custom_status TEXT NOT NULL DEFAULT '',
			input BLOB,
			output BLOB,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_instances_name_status ON instances(name, status);`,
	)
	return err
}

func (s *SQLiteInstanceStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, name, status, custom_status, input, output, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteInstanceStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = ?, status = ?, custom_status = ?, input = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ?`,
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

const sqlInstanceColumns = `id, name, status, custom_status, input, output, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanInstance reads one row selected with sqlInstanceColumns.
func scanInstance(row rowScanner) (*api.Instance, error) {
	var (
		inst               api.Instance
		status             string
		input, output      []byte
		created, updated   int64
		customStatus, errS sql.NullString
	)
	if err := row.Scan(&inst.ID, &inst.Name, &status, &customStatus, &input, &output, &errS, &created, &updated); err != nil {
		return nil, err
	}
	inst.Status = api.Status(status)
	inst.CustomStatus = customStatus.String
	inst.Input = rawOrNil(input)
	inst.Output = rawOrNil(output)
	inst.Error = errS.String
	inst.CreatedAt = fromUnixNano(created)
	inst.UpdatedAt = fromUnixNano(updated)
	return &inst, nil
}

func (s *SQLiteInstanceStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlInstanceColumns+` FROM instances WHERE id = ?`, id)

	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `SELECT ` + sqlInstanceColumns + ` FROM instances`
	var args []any
	var clauses []string

	if filter.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = ?, lease_expires_at = ?
		WHERE id = ?
		AND (lease_owner = '' OR lease_expires_at <= ? OR lease_owner = ?)`,
		owner, now.Add(ttl).UnixNano(), instanceID, now.UnixNano(), owner,
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
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = '', lease_expires_at = 0
		WHERE id = ? AND lease_owner = ?`,
		instanceID, owner,
	)
	return err
}

// NewSQLitePersistence creates the SQLite instance and history stores on db.
// The pool is limited to one connection so ":memory:" databases are shared
// by every store and writes never contend.
func NewSQLitePersistence(db *sql.DB) (Persistence, error) {
	db.SetMaxOpenConns(1)

	instances, err := NewSQLiteInstanceStore(db)
	if err != nil {
		return Persistence{}, err
	}
	history, err := NewSQLiteHistoryStore(db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{Instances: instances, History: history, Close: db.Close}, nil
}
