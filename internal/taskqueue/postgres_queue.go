package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Schema (created automatically if missing):
//
//	CREATE TABLE IF NOT EXISTS queue_tasks (
//	    seq         BIGSERIAL PRIMARY KEY,
//	    id          TEXT NOT NULL,
//	    payload     BYTEA NOT NULL,
//	    not_before  BIGINT NOT NULL
//	);
//	CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_tasks_id ON queue_tasks(id);
//
// The queue is FIFO by not_before among due tasks. Concurrent workers claim
// distinct rows with FOR UPDATE SKIP LOCKED.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{db: db, pollInterval: 100 * time.Millisecond}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_tasks (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL,
			payload    BYTEA NOT NULL,
			not_before BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queue_tasks_due ON queue_tasks(not_before, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_tasks_id ON queue_tasks(id);
	`)
	return err
}

// Enqueue inserts a task into the queue. A task whose ID is still queued is
// left as it is.
func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	t = stamp(t, time.Now())
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_tasks (id, payload, not_before)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, data, t.NotBefore.UnixNano())
	return err
}

// Dequeue blocks (with polling) until a task is available or ctx is cancelled.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle poll.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		id, payload, err := q.claim(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing available yet: wait a bit and retry using reusable timer.
			tmr.Reset(q.pollInterval)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tmr.C:
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		task, err := DecodeTask(payload)
		if err != nil {
			return nil, fmt.Errorf("decode task %q failed: %w", id, err)
		}
		return task, nil
	}
}

// claim locks a single oldest due row, if any, and deletes it within the
// same transaction.
func (q *PostgresQueue) claim(ctx context.Context) (string, []byte, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq     int64
		id      string
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, id, payload
		FROM queue_tasks
		WHERE not_before <= $1
		ORDER BY not_before, seq
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, time.Now().UnixNano()).Scan(&seq, &id, &payload)
	if err != nil {
		return "", nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_tasks WHERE seq = $1`, seq); err != nil {
		return "", nil, err
	}
	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return id, payload, nil
}

// Len returns an approximate number of queued tasks.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_tasks`).Scan(&n); err != nil {
		slog.Warn("postgres queue length failed", slog.Any("error", err))
		return 0
	}
	return n
}
