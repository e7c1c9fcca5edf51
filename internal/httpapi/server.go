// Package httpapi exposes the order workflow over HTTP: a start trigger,
// status queries, history and termination.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/petrijr/pedidoflow/internal/pedido"
	"github.com/petrijr/pedidoflow/pkg/api"
)

// Config describes a Server.
type Config struct {
	Engine api.Engine
	Logger *slog.Logger

	// Metrics serves GET /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

// Server holds the HTTP handlers.
type Server struct {
	engine   api.Engine
	logger   *slog.Logger
	validate *validator.Validate
	metrics  http.Handler
}

// New builds a Server.
func New(cfg Config) *Server {
	s := &Server{
		engine:   cfg.Engine,
		logger:   cfg.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  cfg.Metrics,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = promhttp.Handler()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pedidos/start", s.handleStart)
	mux.HandleFunc("POST /api/pedidos/start", s.handleStart)
	mux.HandleFunc("GET /api/instances", s.handleList)
	mux.HandleFunc("GET /api/instances/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/instances/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/instances/{id}/terminate", s.handleTerminate)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.metrics)
	return s.logRequests(mux)
}

type startRequest struct {
	PedidoID string `validate:"required,numeric"`
	Valor    string `validate:"required,numeric"`
}

// CheckStatusResponse tells the caller where to poll a started instance.
type CheckStatusResponse struct {
	ID                string `json:"id"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
	HistoryGetURI     string `json:"historyGetUri"`
	TerminatePostURI  string `json:"terminatePostUri"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := startRequest{PedidoID: q.Get("PedidoId"), Valor: q.Get("Valor")}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, "PedidoId and Valor must be numbers: "+err.Error())
		return
	}
	pedidoID, err := strconv.Atoi(req.PedidoID)
	if err != nil {
		badRequest(w, r, "PedidoId must be an integer")
		return
	}
	valor, err := decimal.NewFromString(req.Valor)
	if err != nil {
		badRequest(w, r, "Valor must be a decimal number")
		return
	}

	id, err := s.engine.Start(r.Context(), pedido.OrchestratorName, pedido.NewRequest(pedidoID, valor))
	if err != nil && id == "" {
		s.handleEngineError(w, r, err)
		return
	}
	if err != nil {
		// The instance exists; its first advance will be retried.
		s.logger.Warn("first advance failed", "instance_id", id, "error", err)
	}
	s.logger.Info("started orchestration", "instance_id", id, "pedido_id", pedidoID)

	base := baseURL(r) + "/api/instances/" + id
	resp := CheckStatusResponse{
		ID:                id,
		StatusQueryGetURI: base,
		HistoryGetURI:     base + "/history",
		TerminatePostURI:  base + "/terminate?reason={text}",
	}
	w.Header().Set("Location", resp.StatusQueryGetURI)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type listRequest struct {
	Status string `validate:"omitempty,oneof=PENDING RUNNING COMPLETED FAILED TERMINATED"`
	Name   string
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := listRequest{Status: q.Get("status"), Name: q.Get("name")}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, "Invalid query parameters: "+err.Error())
		return
	}

	insts, err := s.engine.ListInstances(r.Context(), api.InstanceListOptions{
		Name:   req.Name,
		Status: api.Status(req.Status),
	})
	if err != nil {
		s.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insts)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "terminated via API"
	}
	if err := s.engine.Terminate(r.Context(), r.PathValue("id"), reason); err != nil {
		s.handleEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
