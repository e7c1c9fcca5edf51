package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteQueue is a persistent task queue implementation backed by SQLite.
// It is safe for concurrent use for our purposes, using FIFO semantics
// among due tasks based on an auto-incrementing id.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			not_before INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queue_tasks_due ON queue_tasks(not_before, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_tasks_id ON queue_tasks(id);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

// Enqueue inserts t unless a task with the same ID is still queued.
func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	t = stamp(t, time.Now())
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_tasks (id, type, instance_id, payload, not_before)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID,
		string(t.Type),
		t.InstanceID,
		data,
		t.NotBefore.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		payload, err := q.claim(ctx, time.Now().UnixNano())
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing available: sleep a bit and retry.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
				continue
			}
		}
		if err != nil {
			return nil, err
		}

		task, err := DecodeTask(payload)
		if err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return task, nil
	}
}

// claim selects and deletes the oldest due task in one transaction.
func (q *SQLiteQueue) claim(ctx context.Context, now int64) ([]byte, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq     int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, payload
		FROM queue_tasks
		WHERE not_before <= ?
		ORDER BY not_before, seq
		LIMIT 1`, now).Scan(&seq, &payload)
	if err != nil {
		return nil, err
	}

	// Delete the row we just claimed.
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_tasks WHERE seq = ?`, seq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_tasks`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
