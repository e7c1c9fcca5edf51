package persistence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/pedidoflow/pkg/api"
)

func history(evs ...api.HistoryEvent) []api.HistoryEvent {
	for i := range evs {
		evs[i].Seq = i
	}
	return evs
}

func TestValidateAppend(t *testing.T) {
	const id = "inst-1"
	started := api.ExecutionStarted(id, "orch", json.RawMessage(`{}`))
	sched1 := api.TaskScheduled(id, 1, "act", nil)
	done1 := api.TaskCompleted(id, 1, json.RawMessage(`true`))

	cases := []struct {
		name     string
		existing []api.HistoryEvent
		ev       api.HistoryEvent
		wantErr  error
	}{
		{name: "first event started", ev: started},
		{name: "first event not started", ev: sched1, wantErr: api.ErrCorruptHistory},
		{name: "second started", existing: history(started), ev: started, wantErr: api.ErrCorruptHistory},
		{name: "first task", existing: history(started), ev: sched1},
		{name: "task id gap", existing: history(started), ev: api.TaskScheduled(id, 2, "act", nil), wantErr: api.ErrOutOfOrderTask},
		{name: "task id repeated", existing: history(started, sched1), ev: sched1, wantErr: api.ErrOutOfOrderTask},
		{name: "completion", existing: history(started, sched1), ev: done1},
		{name: "failure", existing: history(started, sched1), ev: api.TaskFailed(id, 1, "boom")},
		{name: "completion unscheduled", existing: history(started, sched1), ev: api.TaskCompleted(id, 2, nil), wantErr: api.ErrUnknownTask},
		{name: "completion zero id", existing: history(started), ev: api.TaskCompleted(id, 0, nil), wantErr: api.ErrUnknownTask},
		{name: "duplicate completion", existing: history(started, sched1, done1), ev: done1, wantErr: api.ErrDuplicateCompletion},
		{name: "failure after completion", existing: history(started, sched1, done1), ev: api.TaskFailed(id, 1, "late"), wantErr: api.ErrDuplicateCompletion},
		{name: "terminal", existing: history(started, sched1, done1), ev: api.ExecutionCompleted(id, nil)},
		{
			name:     "after terminal",
			existing: history(started, api.ExecutionTerminated(id, "stop")),
			ev:       api.TaskScheduled(id, 1, "act", nil),
			wantErr:  api.ErrInstanceFinalized,
		},
		{
			name:     "late completion after terminate",
			existing: history(started, sched1, api.ExecutionTerminated(id, "stop")),
			ev:       done1,
			wantErr:  api.ErrInstanceFinalized,
		},
		{name: "missing instance id", ev: api.ExecutionStarted("", "orch", nil), wantErr: api.ErrCorruptHistory},
		{name: "unknown type", existing: history(started), ev: api.HistoryEvent{InstanceID: id, Type: "bogus"}, wantErr: api.ErrCorruptHistory},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAppend(tc.existing, tc.ev)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPrepareAppendAssignsSeqAndTime(t *testing.T) {
	existing := history(api.ExecutionStarted("i", "orch", nil))

	got, err := prepareAppend(existing, api.TaskScheduled("i", 1, "act", nil))
	require.NoError(t, err)
	require.Equal(t, 1, got.Seq)
	require.False(t, got.At.IsZero())
}

func TestInstanceRecordRoundTrip(t *testing.T) {
	inst := &api.Instance{
		ID:           "i",
		Name:         "orch",
		Status:       api.StatusRunning,
		CustomStatus: "halfway",
		Input:        json.RawMessage(`{"a":1}`),
	}

	data, err := encodeGob(toInstanceRecord(inst))
	require.NoError(t, err)
	rec, err := decodeGob[instanceRecord](data)
	require.NoError(t, err)

	got := rec.instance()
	require.Equal(t, inst.ID, got.ID)
	require.Equal(t, inst.Status, got.Status)
	require.Equal(t, inst.CustomStatus, got.CustomStatus)
	require.JSONEq(t, `{"a":1}`, string(got.Input))
	require.Nil(t, got.Output)
	require.True(t, got.CreatedAt.IsZero())
}
