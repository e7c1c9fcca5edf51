package persistence

import (
	"context"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// ErrInstanceNotFound is returned when an instance record is not found.
var ErrInstanceNotFound = api.ErrInstanceNotFound

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Name   string
	Status api.Status
}

func (f InstanceFilter) matches(inst *api.Instance) bool {
	if f.Name != "" && inst.Name != f.Name {
		return false
	}
	if f.Status != "" && inst.Status != f.Status {
		return false
	}
	return true
}

// InstanceStore handles storage of instance records. Records are a
// projection over the history and are rewritten as the instance advances.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *api.Instance) error
	UpdateInstance(ctx context.Context, inst *api.Instance) error
	GetInstance(ctx context.Context, id string) (*api.Instance, error)
	// ListInstances returns matching instances ordered by creation time.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error)

	// TryAcquireLease attempts to acquire (or re-acquire) a lease on an instance.
	// If the instance is currently leased by another owner and the lease has not expired,
	// it returns acquired=false, err=nil.
	//
	// Implementations should treat a lease owned by the same owner as re-entrant.
	TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (acquired bool, err error)
	// ReleaseLease releases a lease if it is owned by 'owner'. It is idempotent.
	ReleaseLease(ctx context.Context, instanceID, owner string) error
}

// HistoryStore is the append-only event log of every instance.
//
// AppendEvent validates ev against the existing history with ValidateAppend
// and stores it atomically: the event is either fully durable or absent.
// The stored event is returned with Seq and At assigned.
type HistoryStore interface {
	AppendEvent(ctx context.Context, ev api.HistoryEvent) (api.HistoryEvent, error)
	ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error)
}
