package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using Redis.
//
// It uses three keys:
//
//	<prefix>tasks     LIST of due, gob-encoded Task structs (LPUSH / BRPOP)
//	<prefix>delayed   ZSET of gob-encoded tasks scored by NotBefore (unix ms)
//	<prefix>queued    HASH of the IDs currently in either structure
//
// Dequeue promotes due delayed tasks into the list before blocking on it.
type RedisQueue struct {
	client       redis.UniversalClient
	key          string
	delayedKey   string
	queuedKey    string
	pollInterval time.Duration
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "pedidoflow:").
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "pedidoflow:"
	}
	return &RedisQueue{
		client:       client,
		key:          prefix + "tasks",
		delayedKey:   prefix + "delayed",
		queuedKey:    prefix + "queued",
		pollInterval: 200 * time.Millisecond,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// redisPromoteDue moves up to 100 due members of the delayed set onto the
// task list atomically. Returns the number moved.
var redisPromoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// redisEnqueue records the task ID with HSETNX and, only if it was not
// already queued, pushes the task onto the list (ARGV[3] == "") or the
// delayed set scored by ARGV[3]. Returns 1 if the task was added.
var redisEnqueue = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], 1) == 0 then
	return 0
end
if ARGV[3] == '' then
	redis.call('LPUSH', KEYS[2], ARGV[2])
else
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
end
return 1
`)

// Enqueue pushes a task onto the Redis list (LPUSH), or onto the delayed
// set if its NotBefore is in the future. A task whose ID is still queued is
// skipped.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	now := time.Now()
	t = stamp(t, now)
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	score := ""
	if t.NotBefore.After(now) {
		score = strconv.FormatInt(t.NotBefore.UnixMilli(), 10)
	}
	return redisEnqueue.Run(ctx, q.client,
		[]string{q.queuedKey, q.key, q.delayedKey},
		t.ID, data, score,
	).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := redisPromoteDue.Run(ctx, q.client, []string{q.delayedKey, q.key}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}

		// BRPop returns [key, value]; redis.Nil on timeout.
		res, err := q.client.BRPop(ctx, q.pollInterval, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) != 2 {
			slog.Warn("redis queue: unexpected BRPOP result", slog.Any("result", res))
			continue
		}

		task, err := DecodeTask([]byte(res[1]))
		if err != nil {
			return nil, err
		}
		if err := q.client.HDel(ctx, q.queuedKey, task.ID).Err(); err != nil {
			slog.Warn("redis queue: releasing task id failed", slog.String("task_id", task.ID), slog.Any("error", err))
		}
		return task, nil
	}
}

// Len returns the approximate number of tasks queued (LLEN + ZCARD).
func (q *RedisQueue) Len() int {
	ctx := context.Background()
	pipe := q.client.Pipeline()
	due := pipe.LLen(ctx, q.key)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		// For a Len() helper, it's better to log and return 0 than panic.
		slog.Warn("redis queue: length failed", slog.Any("error", err))
		return 0
	}
	return int(due.Val() + delayed.Val())
}
