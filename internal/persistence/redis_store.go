package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// RedisStore is an InstanceStore and HistoryStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>         => gob-encoded instanceRecord
//	<prefix>hist:<id>         => LIST of gob-encoded eventRecord, in order
//	<prefix>lease:<id>        => lease owner, expiring after the lease TTL
//	<prefix>idx:all           => SET of all instance IDs
//	<prefix>idx:name:<name>   => SET of instance IDs for a given orchestrator
//
// Status filtering is applied to the decoded records, so the indexes never
// go stale when an instance changes status.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ InstanceStore = (*RedisStore)(nil)
	_ HistoryStore  = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "pedidoflow:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pedidoflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// NewRedisPersistence returns a Persistence whose stores share one RedisStore.
func NewRedisPersistence(client redis.UniversalClient, prefix string) Persistence {
	s := NewRedisStore(client, prefix)
	return Persistence{Instances: s, History: s, Close: client.Close}
}

func (r *RedisStore) keyInstance(id string) string {
	return r.prefix + "inst:" + id
}

func (r *RedisStore) keyHistory(id string) string {
	return r.prefix + "hist:" + id
}

func (r *RedisStore) keyLease(id string) string {
	return r.prefix + "lease:" + id
}

func (r *RedisStore) keyAll() string {
	return r.prefix + "idx:all"
}

func (r *RedisStore) keyName(name string) string {
	return r.prefix + "idx:name:" + name
}

func (r *RedisStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	data, err := encodeGob(toInstanceRecord(inst))
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.keyInstance(inst.ID), data, 0)
	pipe.SAdd(ctx, r.keyAll(), inst.ID)
	pipe.SAdd(ctx, r.keyName(inst.Name), inst.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	data, err := encodeGob(toInstanceRecord(inst))
	if err != nil {
		return err
	}

	// SET XX only overwrites an existing record.
	ok, err := r.client.SetXX(ctx, r.keyInstance(inst.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceNotFound
	}
	return nil
}

func (r *RedisStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	data, err := r.client.Get(ctx, r.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	rec, err := decodeGob[instanceRecord](data)
	if err != nil {
		return nil, err
	}
	return rec.instance(), nil
}

func (r *RedisStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	key := r.keyAll()
	if filter.Name != "" {
		key = r.keyName(filter.Name)
	}

	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.Instance{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.Instance{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var instances []*api.Instance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeGob[instanceRecord](data)
		if err != nil {
			return nil, err
		}
		inst := rec.instance()
		if filter.matches(inst) {
			instances = append(instances, inst)
		}
	}

	sortByCreation(instances)
	return instances, nil
}

func (r *RedisStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error) {
	key := r.keyHistory(ev.InstanceID)

	var stored api.HistoryEvent
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		existing, err := decodeEvents(raw)
		if err != nil {
			return err
		}

		stored, err = prepareAppend(existing, ev)
		if err != nil {
			return err
		}
		data, err := encodeGob(toEventRecord(stored))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return api.HistoryEvent{}, err
		}
	}
	return api.HistoryEvent{}, redis.TxFailedErr
}

func (r *RedisStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	raw, err := r.client.LRange(ctx, r.keyHistory(instanceID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return decodeEvents(raw)
}

func decodeEvents(raw []string) ([]api.HistoryEvent, error) {
	out := make([]api.HistoryEvent, 0, len(raw))
	for _, item := range raw {
		rec, err := decodeGob[eventRecord]([]byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, rec.event())
	}
	return out, nil
}

var (
	// Lua script for acquiring a lease with re-entrant behavior for the same owner.
	// Returns 1 if acquired/refreshed, 0 otherwise.
	redisLeaseAcquire = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Lua script for releasing a lease. Returns 1 if released, 0 otherwise.
	redisLeaseRelease = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`)
)

func (r *RedisStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	exists, err := r.client.Exists(ctx, r.keyInstance(instanceID)).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrInstanceNotFound
	}

	n, err := redisLeaseAcquire.Run(ctx, r.client, []string{r.keyLease(instanceID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	// Idempotent: a missing lease or one held by another owner is left alone.
	return redisLeaseRelease.Run(ctx, r.client, []string{r.keyLease(instanceID)}, owner).Err()
}
