package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/querydesk/querydesk/internal/assistant"
	"github.com/querydesk/querydesk/internal/auth"
	"github.com/querydesk/querydesk/internal/nl2sql"
	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/sqlguard"
)

const maxQuestionBodyBytes = 64 << 10

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "query assistant is not configured")
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error())
		return
	}

	var req askRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxQuestionBodyBytes))
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body")
		return
	}

	response, err := deps.Assistant.Ask(r.Context(), req.Question)
	if err != nil {
		status, code := classifyAskError(err)
		writeError(r.Context(), w, status, code, askErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func classifyAskError(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrMissingInput):
		return http.StatusBadRequest, "MISSING_INPUT"
	case errors.Is(err, nl2sql.ErrGenerationUnavailable):
		return http.StatusBadGateway, "GENERATION_UNAVAILABLE"
	case errors.Is(err, sqlguard.ErrUnsafeQuery):
		return http.StatusUnprocessableEntity, "UNSAFE_QUERY"
	case errors.Is(err, query.ErrExecutionFailed):
		return http.StatusBadRequest, "EXECUTION_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// askErrorMessage returns backend execution messages verbatim. Provider
// failures are reported by sentinel only.
func askErrorMessage(err error) string {
	var execErr *query.ExecutionError
	switch {
	case errors.As(err, &execErr):
		return execErr.Error()
	case errors.Is(err, nl2sql.ErrGenerationUnavailable):
		return nl2sql.ErrGenerationUnavailable.Error()
	default:
		return err.Error()
	}
}
