package pedidoflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInMemoryEngineWithObserverAndBasicMetrics verifies that:
//   - NewInMemoryEngineWithObserver is usable from the public API
//   - BasicMetrics sees expected instance and activity counts
//   - the order approval runs end-to-end without external infra.
func TestInMemoryEngineWithObserverAndBasicMetrics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := &BasicMetrics{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))

	eng := NewInMemoryEngineWithObserver(NewCompositeObserver(NewLoggingObserver(logger), metrics))
	require.NoError(t, RegisterPedidoWorkflow(eng))

	st, err := Run(ctx, eng, PedidoOrchestrator, NewPedidoRequest(7, decimal.NewFromInt(100)))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Status)
	assert.JSONEq(t, `["Pedido Criado: True","Pedido Em Analise: True","Pedido Finalizado: True"]`, string(st.Output))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.InstancesStarted)
	assert.Equal(t, int64(1), snap.InstancesCompleted)
	assert.Equal(t, int64(0), snap.InstancesFailed)
	assert.Equal(t, int64(3), snap.ActivitiesScheduled)
	assert.Equal(t, int64(3), snap.ActivitiesCompleted)
}

func TestForwardingHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng := NewInMemoryEngine()
	require.NoError(t, RegisterPedidoWorkflow(eng))

	id, err := StartPedido(ctx, eng, 3, decimal.RequireFromString("12.50"))
	require.NoError(t, err)

	st, err := GetStatus(ctx, eng, id)
	require.NoError(t, err)
	// Start advances once: the first activity is scheduled, not run.
	assert.Equal(t, StatusRunning, st.Status)

	hist, err := GetHistory(ctx, eng, id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, PedidoActivity, hist[1].Name)

	list, err := ListInstances(ctx, eng, InstanceListOptions{Name: PedidoOrchestrator})
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err := RecoverInFlight(ctx, eng, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err = GetStatus(ctx, eng, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)

	require.ErrorIs(t, Terminate(ctx, eng, id, "late"), ErrInstanceFinalized)

	_, err = GetStatus(ctx, eng, "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestTypedActivityAndRetryHelpers(t *testing.T) {
	t.Parallel()

	type in struct {
		N int `json:"n"`
	}

	calls := 0
	eng := NewInMemoryEngine()
	require.NoError(t, eng.RegisterActivity("flaky", TypedActivity(func(ctx context.Context, v *in) (int, error) {
		calls++
		info, ok := ActivityInfoFromContext(ctx)
		if !ok || info.Name != "flaky" {
			return 0, errors.New("missing activity info")
		}
		if calls < 2 {
			return 0, errors.New("try again")
		}
		return v.N * 2, nil
	})))
	require.NoError(t, eng.RegisterOrchestrator("double", func(ctx OrchestrationContext) (any, error) {
		var out int
		if err := CallActivityWithRetry(ctx, RetryPolicy{MaxAttempts: 3}, "flaky", in{N: 21}, &out); err != nil {
			return nil, err
		}
		return out, nil
	}))

	st, err := Run(context.Background(), eng, "double", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.JSONEq(t, `42`, string(st.Output))
	assert.Equal(t, 2, calls)
}
