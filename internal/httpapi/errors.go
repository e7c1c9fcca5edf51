package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moogar0880/problems"

	"github.com/petrijr/pedidoflow/pkg/api"
)

const problemMediaType = "application/problem+json"

func writeProblem(w http.ResponseWriter, problem *problems.Problem, status int) {
	w.Header().Set("Content-Type", problemMediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(r.URL.Path).
		WithType("validation_error").
		WithDetail(detail)
	writeProblem(w, problem, http.StatusBadRequest)
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusNotFound).
		WithInstance(r.URL.Path).
		WithType("not_found").
		WithDetail(detail)
	writeProblem(w, problem, http.StatusNotFound)
}

// handleEngineError maps engine errors to problem documents.
func (s *Server) handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, api.ErrInstanceNotFound):
		notFound(w, r, "instance not found")

	case errors.Is(err, api.ErrInstanceFinalized):
		problem := problems.NewStatusProblem(http.StatusConflict).
			WithInstance(r.URL.Path).
			WithType("instance_finalized").
			WithDetail(err.Error())
		writeProblem(w, problem, http.StatusConflict)

	case errors.Is(err, api.ErrInstanceBusy):
		problem := problems.NewStatusProblem(http.StatusConflict).
			WithInstance(r.URL.Path).
			WithType("instance_busy").
			WithDetail("instance is being advanced, retry shortly")
		writeProblem(w, problem, http.StatusConflict)

	default:
		// Log unexpected errors but don't expose details
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		problem := problems.NewStatusProblem(http.StatusInternalServerError).
			WithInstance(r.URL.Path).
			WithType("internal_error")
		writeProblem(w, problem, http.StatusInternalServerError)
	}
}
