// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/moogar0880/problems"
)

const problemContentType = "application/problem+json"

type validationProblem struct {
	*problems.Problem
	Problems []domain.FieldProblem `json:"problems,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(typ).
		WithDetail(detail)
	writeProblemBody(w, status, problem)
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "bad_request", detail)
}

// writeError maps domain errors onto problem documents. Unexpected errors are
// logged and reported without their message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *domain.ValidationError
	var ext *domain.ExternalServiceError

	switch {
	case errors.As(err, &verr):
		problem := problems.NewStatusProblem(http.StatusBadRequest).
			WithInstance(r.URL.Path).
			WithType("validation_error").
			WithDetail(verr.Error())
		writeProblemBody(w, http.StatusBadRequest, validationProblem{Problem: problem, Problems: verr.Problems})
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrDuplicateRun):
		writeProblem(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &ext):
		logger.Error("external service failed",
			"service", ext.Service,
			"op", ext.Op,
			"path", r.URL.Path,
			"error", ext.Err,
		)
		writeProblem(w, r, http.StatusBadGateway, "external_service_error", ext.Service+" "+ext.Op+" failed")
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		problem := problems.NewStatusProblem(http.StatusInternalServerError).
			WithInstance(r.URL.Path).
			WithType("internal_error")
		writeProblemBody(w, http.StatusInternalServerError, problem)
	}
}
