package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/pedido"
	"github.com/petrijr/pedidoflow/pkg/api"
)

func newTestServer(t *testing.T) (*httptest.Server, api.WorkerEngine) {
	t.Helper()
	eng := engine.NewInMemoryEngine()
	require.NoError(t, pedido.Register(eng))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "pedidoflow_test_total"}))

	srv := httptest.NewServer(New(Config{
		Engine:  eng,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}).Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func decodeProblem(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	assert.Equal(t, problemMediaType, resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStartReturnsCheckStatusLinks(t *testing.T) {
	srv, eng := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, srv.URL+"/api/pedidos/start?PedidoId=12&Valor=100.00", nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusAccepted, resp.StatusCode)
			var body CheckStatusResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.ID)
			assert.Equal(t, srv.URL+"/api/instances/"+body.ID, body.StatusQueryGetURI)
			assert.Equal(t, body.StatusQueryGetURI, resp.Header.Get("Location"))

			hist, err := eng.History(context.Background(), body.ID)
			require.NoError(t, err)
			require.NotEmpty(t, hist)
			var input pedido.PedidoApprovalRequest
			require.NoError(t, json.Unmarshal(hist[0].Payload, &input))
			assert.Equal(t, 12, input.PedidoID)
			assert.True(t, input.Valor.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, pedido.EtapaCriado, input.Etapa)
		})
	}
}

func TestStartRejectsMalformedInput(t *testing.T) {
	srv, eng := newTestServer(t)

	for _, query := range []string{
		"",
		"PedidoId=1",
		"Valor=10",
		"PedidoId=abc&Valor=10",
		"PedidoId=1&Valor=ten",
		"PedidoId=1.5&Valor=10",
		"PedidoId=99999999999999999999&Valor=10",
	} {
		t.Run(query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/pedidos/start?" + query)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeProblem(t, resp)
			assert.Equal(t, "validation_error", body["type"])
		})
	}

	insts, err := eng.ListInstances(context.Background(), api.InstanceListOptions{})
	require.NoError(t, err)
	assert.Empty(t, insts, "no instance is created for bad input")
}

func TestStatusOfCompletedInstance(t *testing.T) {
	srv, eng := newTestServer(t)
	st, err := eng.Run(context.Background(), pedido.OrchestratorName, pedido.NewRequest(5, decimal.NewFromInt(100)))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/instances/" + st.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "COMPLETED", body["runtimeStatus"])
	assert.Equal(t, []any{"Pedido Criado: True", "Pedido Em Analise: True", "Pedido Finalizado: True"}, body["output"])
	assert.Equal(t, st.ID, body["instanceId"])
}

func TestUnknownInstanceIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api/instances/missing", "/api/instances/missing/history"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		body := decodeProblem(t, resp)
		resp.Body.Close()
		assert.Equal(t, "not_found", body["type"])
		assert.Equal(t, path, body["instance"])
	}
}

func TestHistoryListAndTerminate(t *testing.T) {
	srv, eng := newTestServer(t)
	ctx := context.Background()

	running, err := eng.Start(ctx, pedido.OrchestratorName, pedido.NewRequest(1, decimal.NewFromInt(1)))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/instances/" + running + "/history")
	require.NoError(t, err)
	var hist []api.HistoryEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	require.Len(t, hist, 2)
	assert.Equal(t, api.EventTaskScheduled, hist[1].Type)

	resp, err = http.Get(srv.URL + "/api/instances?status=RUNNING")
	require.NoError(t, err)
	var list []api.InstanceStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, running, list[0].ID)

	resp, err = http.Get(srv.URL + "/api/instances?status=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/instances/"+running+"/terminate?reason=cliente+desistiu", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	st, err := eng.Status(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, api.StatusTerminated, st.Status)
	assert.Equal(t, "cliente desistiu", st.Error)

	resp, err = http.Post(srv.URL+"/api/instances/"+running+"/terminate", "", nil)
	require.NoError(t, err)
	body := decodeProblem(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "instance_finalized", body["type"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pedidoflow_test_total")
}
