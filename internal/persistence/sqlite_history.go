package persistence

import (
	"context"
	"database/sql"
	"sync"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// SQLiteHistoryStore stores instance histories in SQLite.
type SQLiteHistoryStore struct {
	db *sql.DB

	// mu serializes read-validate-insert transactions; SQLite has a single writer.
	mu sync.Mutex
}

// Ensure SQLiteHistoryStore implements the interfaces.
var _ HistoryStore = (*SQLiteHistoryStore)(nil)

func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	s := &SQLiteHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_events (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			task_id INTEGER NOT NULL DEFAULT 0,
			slot TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			payload BLOB,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_history_events_task
			ON history_events(instance_id, task_id, slot) WHERE task_id > 0;
	`)
	return err
}

func (s *SQLiteHistoryStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.HistoryEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := listEventsSQL(ctx, tx, `
		SELECT instance_id, seq, at, type, task_id, name, payload, error
		FROM history_events
		WHERE instance_id = ?
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteHistoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	return listEventsSQL(ctx, s.db, `
		SELECT instance_id, seq, at, type, task_id, name, payload, error
		FROM history_events
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// listEventsSQL runs a history query whose columns are
// instance_id, seq, at, type, task_id, name, payload, error.
func listEventsSQL(ctx context.Context, q sqlQuerier, query string, args ...any) ([]api.HistoryEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		var (
			rec eventRecord
			typ string
		)
		if err := rows.Scan(&rec.InstanceID, &rec.Seq, &rec.At, &typ, &rec.TaskID, &rec.Name, &rec.Payload, &rec.Error); err != nil {
			return nil, err
		}
		rec.Type = typ
		out = append(out, rec.event())
	}
	return out, rows.Err()
}
