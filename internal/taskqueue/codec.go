package taskqueue

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

// ErrInvalidTask is returned by DecodeTask for payloads that decode but do
// not describe a runnable task.
var ErrInvalidTask = errors.New("invalid task")

// EncodeTask gob-encodes a Task for the durable queues.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask gob-decodes a Task and checks that a worker can act on it.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Task) validate() error {
	if t.InstanceID == "" {
		return fmt.Errorf("%w: %s has no instance id", ErrInvalidTask, t.ID)
	}
	switch t.Type {
	case TaskTypeAdvance:
		return nil
	case TaskTypeActivity:
		if t.TaskID <= 0 || t.ActivityName == "" {
			return fmt.Errorf("%w: activity task %s needs a task id and a name", ErrInvalidTask, t.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTask, t.Type)
	}
}
