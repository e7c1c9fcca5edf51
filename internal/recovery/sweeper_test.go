package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	calls      atomic.Int32
	staleAfter atomic.Int64
	touched    int
	err        error
}

func (f *fakeRecoverer) RecoverInFlight(ctx context.Context, staleAfter time.Duration) (int, error) {
	f.calls.Add(1)
	f.staleAfter.Store(int64(staleAfter))
	return f.touched, f.err
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(&fakeRecoverer{}, "every now and then", time.Minute, nil)
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestSweep_PassesStaleAfter(t *testing.T) {
	r := &fakeRecoverer{touched: 3}
	s, err := NewSweeper(r, "*/5 * * * *", 2*time.Minute, nil)
	require.NoError(t, err)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(2*time.Minute), r.staleAfter.Load())
	assert.True(t, s.NextRun().After(time.Now()))
}

func TestSweep_ReturnsErrors(t *testing.T) {
	boom := errors.New("store down")
	r := &fakeRecoverer{touched: 1, err: boom}
	s, err := NewSweeper(r, "@hourly", 0, nil)
	require.NoError(t, err)

	n, err := s.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	r := &fakeRecoverer{}
	s, err := NewSweeper(r, "@every 1s", time.Second, nil)
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	s.Stop()
	after := r.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, r.calls.Load(), "no sweeps after Stop")
}
