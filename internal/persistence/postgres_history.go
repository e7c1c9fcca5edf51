package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// maxAppendAttempts bounds optimistic append retries on write conflicts.
const maxAppendAttempts = 5

// PostgresHistoryStore stores instance histories in PostgreSQL.
//
// Concurrent appends to the same instance race on the (instance_id, seq)
// primary key; the loser re-reads the history and validates again, so a
// conflicting duplicate completion surfaces as ErrDuplicateCompletion.
type PostgresHistoryStore struct {
	db *sql.DB
}

var _ HistoryStore = (*PostgresHistoryStore)(nil)

func NewPostgresHistoryStore(db *sql.DB) (*PostgresHistoryStore, error) {
	s := &PostgresHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_events (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at BIGINT NOT NULL,
			type TEXT NOT NULL,
			task_id INTEGER NOT NULL DEFAULT 0,
			slot TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			payload BYTEA,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_history_events_task
			ON history_events(instance_id, task_id, slot) WHERE task_id > 0;
	`)
	return err
}

func (s *PostgresHistoryStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		stored, err := s.tryAppend(ctx, ev)
		if err == nil {
			return stored, nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
			return api.HistoryEvent{}, err
		}
		lastErr = err
	}
	return api.HistoryEvent{}, lastErr
}

func (s *PostgresHistoryStore) tryAppend(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.HistoryEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := listEventsSQL(ctx, tx, `
		SELECT instance_id, seq, at, type, task_id, name, payload, error
		FROM history_events
		WHERE instance_id = $1
		ORDER BY seq ASC`, ev.InstanceID)
	if err != nil {
		return api.HistoryEvent{}, err
	}

	stored, err := prepareAppend(existing, ev)
	if err != nil {
		return api.HistoryEvent{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history_events (instance_id, seq, at, type, task_id, slot, name, payload, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stored.InstanceID,
		stored.Seq,
		stored.At.UnixNano(),
		string(stored.Type),
		stored.TaskID,
		taskSlot(stored.Type),
		stored.Name,
		[]byte(stored.Payload),
		stored.Error,
	); err != nil {
		return api.HistoryEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return api.HistoryEvent{}, err
	}
	return stored, nil
}

func (s *PostgresHistoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	return listEventsSQL(ctx, s.db, `
		SELECT instance_id, seq, at, type, task_id, name, payload, error
		FROM history_events
		WHERE instance_id = $1
		ORDER BY seq ASC`, instanceID)
}
