package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// instanceRecord is the gob wire form of an instance record in key-value
// backends. Payloads stay opaque JSON bytes.
type instanceRecord struct {
	ID           string
	Name         string
	Status       string
	CustomStatus string
	Input        []byte
	Output       []byte
	Error        string
	CreatedAt    int64
	UpdatedAt    int64
}

// eventRecord is the gob wire form of a history event.
type eventRecord struct {
	InstanceID string
	Seq        int
	At         int64
	Type       string
	TaskID     int
	Name       string
	Payload    []byte
	Error      string
}

func toInstanceRecord(inst *api.Instance) instanceRecord {
	return instanceRecord{
		ID:           inst.ID,
		Name:         inst.Name,
		Status:       string(inst.Status),
		CustomStatus: inst.CustomStatus,
		Input:        inst.Input,
		Output:       inst.Output,
		Error:        inst.Error,
		CreatedAt:    unixNano(inst.CreatedAt),
		UpdatedAt:    unixNano(inst.UpdatedAt),
	}
}

func (r instanceRecord) instance() *api.Instance {
	return &api.Instance{
		ID:           r.ID,
		Name:         r.Name,
		Status:       api.Status(r.Status),
		CustomStatus: r.CustomStatus,
		Input:        rawOrNil(r.Input),
		Output:       rawOrNil(r.Output),
		Error:        r.Error,
		CreatedAt:    fromUnixNano(r.CreatedAt),
		UpdatedAt:    fromUnixNano(r.UpdatedAt),
	}
}

func toEventRecord(ev api.HistoryEvent) eventRecord {
	return eventRecord{
		InstanceID: ev.InstanceID,
		Seq:        ev.Seq,
		At:         unixNano(ev.At),
		Type:       string(ev.Type),
		TaskID:     ev.TaskID,
		Name:       ev.Name,
		Payload:    ev.Payload,
		Error:      ev.Error,
	}
}

func (r eventRecord) event() api.HistoryEvent {
	return api.HistoryEvent{
		InstanceID: r.InstanceID,
		Seq:        r.Seq,
		At:         fromUnixNano(r.At),
		Type:       api.EventType(r.Type),
		TaskID:     r.TaskID,
		Name:       r.Name,
		Payload:    rawOrNil(r.Payload),
		Error:      r.Error,
	}
}

// encodeGob serializes v using encoding/gob.
func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob decodes data produced by encodeGob into a new T.
func decodeGob[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errors.New("gob: empty payload")
	}
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// rawOrNil maps empty stored payloads back to nil so a missing input and a
// missing output look the same across every backend.
func rawOrNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
