package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// InstanceStore and HistoryStore backed by maps.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.Instance
	leases    map[string]lease
	history   map[string][]api.HistoryEvent
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.Instance),
		leases:    make(map[string]lease),
		history:   make(map[string][]api.HistoryEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ InstanceStore = (*InMemoryStore)(nil)

var _ HistoryStore = (*InMemoryStore)(nil)

// NewInMemoryPersistence returns a Persistence whose stores share one
// InMemoryStore.
func NewInMemoryPersistence() Persistence {
	s := NewInMemoryStore()
	return Persistence{Instances: s, History: s, Close: func() error { return nil }}
}

func (s *InMemoryStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}

	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Instance

	for _, inst := range s.instances {
		if !filter.matches(inst) {
			continue
		}
		result = append(result, inst.Clone())
	}

	sortByCreation(result)
	return result, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instanceID]; !ok {
		return false, ErrInstanceNotFound
	}

	now := time.Now()
	cur, ok := s.leases[instanceID]
	if ok && cur.owner != owner && now.Before(cur.expiresAt) {
		return false, nil
	}
	s.leases[instanceID] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[instanceID]; ok && cur.owner == owner {
		delete(s.leases, instanceID)
	}
	return nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.history[ev.InstanceID]
	stored, err := prepareAppend(existing, ev)
	if err != nil {
		return api.HistoryEvent{}, err
	}
	stored.Payload = append([]byte(nil), stored.Payload...)
	s.history[ev.InstanceID] = append(existing, stored)
	return stored, nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := s.history[instanceID]
	out := make([]api.HistoryEvent, len(existing))
	copy(out, existing)
	return out, nil
}

func sortByCreation(instances []*api.Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		if !instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].CreatedAt.Before(instances[j].CreatedAt)
		}
		return instances[i].ID < instances[j].ID
	})
}
