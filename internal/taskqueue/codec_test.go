package taskqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTask(t *testing.T) {
	in := stamp(NewActivityTask("inst", 1, "act", json.RawMessage(`null`)), time.Now())

	data, err := EncodeTask(in)
	require.NoError(t, err)

	out, err := DecodeTask(data)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, in.TaskID, out.TaskID)
	require.True(t, in.NotBefore.Equal(out.NotBefore))
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := DecodeTask([]byte("not gob"))
	require.Error(t, err)
}

func TestStampKeepsExplicitFields(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	got := stamp(Task{ID: "fixed", NotBefore: later}, now)
	require.Equal(t, "fixed", got.ID)
	require.True(t, got.NotBefore.Equal(later))
	require.True(t, got.EnqueuedAt.Equal(now))

	got = stamp(Task{}, now)
	require.NotEmpty(t, got.ID)
	require.True(t, got.NotBefore.Equal(now))
}

func TestDecodeTaskRejectsUnrunnableTasks(t *testing.T) {
	cases := map[string]Task{
		"no instance":      {ID: "t1", Type: TaskTypeAdvance},
		"unknown type":     {ID: "t2", Type: "bogus", InstanceID: "inst"},
		"activity no id":   {ID: "t3", Type: TaskTypeActivity, InstanceID: "inst", ActivityName: "act"},
		"activity no name": {ID: "t4", Type: TaskTypeActivity, InstanceID: "inst", TaskID: 1},
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeTask(task)
			require.NoError(t, err)

			_, err = DecodeTask(data)
			require.ErrorIs(t, err, ErrInvalidTask)
		})
	}
}
