package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

const lockPollInterval = 10 * time.Millisecond

// keyedLocks is a set of per-instance try-locks.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]struct{})}
}

func (l *keyedLocks) tryLock(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *keyedLocks) unlock(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// acquire takes the in-process lock and the store lease for id. It retries
// for up to wait; with wait <= 0 a held instance fails immediately with
// api.ErrInstanceBusy.
func (e *engineImpl) acquire(ctx context.Context, id string, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		release, err := e.tryAcquire(ctx, id)
		if err == nil {
			return release, nil
		}
		if !isBusy(err) || !time.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (e *engineImpl) tryAcquire(ctx context.Context, id string) (func(), error) {
	if !e.locks.tryLock(id) {
		return nil, fmt.Errorf("%w: %s", api.ErrInstanceBusy, id)
	}

	ok, err := e.instances.TryAcquireLease(ctx, id, e.owner, e.leaseTTL)
	if err != nil {
		e.locks.unlock(id)
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("acquire lease on %s: %w", id, err)
	}
	if !ok {
		e.locks.unlock(id)
		return nil, fmt.Errorf("%w: %s is leased by another owner", api.ErrInstanceBusy, id)
	}

	return func() {
		if err := e.instances.ReleaseLease(context.WithoutCancel(ctx), id, e.owner); err != nil {
			e.logger.Warn("release lease failed", "instance_id", id, "error", err)
		}
		e.locks.unlock(id)
	}, nil
}

func isBusy(err error) bool { return errors.Is(err, api.ErrInstanceBusy) }

func isNotFound(err error) bool { return errors.Is(err, api.ErrInstanceNotFound) }
