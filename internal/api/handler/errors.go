package handler

import (
	"errors"
	"net/http"

	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/api/response"
	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/engine"
)

// ErrorsHandler accepts failure reports from the editor.
type ErrorsHandler struct {
	engine *engine.Engine
}

// NewErrorsHandler creates a new ErrorsHandler.
func NewErrorsHandler(e *engine.Engine) *ErrorsHandler {
	return &ErrorsHandler{engine: e}
}

// ReportError handles POST /v1/errors - classify a failure and run recovery.
func (h *ErrorsHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	var report models.ErrorReport
	if !response.DecodeJSON(w, r, &report) {
		return
	}
	if errs := report.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation failed", errs)
		return
	}

	err := errors.New(report.Message)
	if report.Name != "" {
		err = classifier.WithName(err, report.Name)
	}

	ce, res := h.engine.HandleFailureWithStack(r.Context(), err, report.Context, report.Stack)
	response.JSON(w, r, http.StatusOK, models.ErrorReportResponse{
		Error:    ce,
		Recovery: models.NewRecoveryOutcome(res),
	})
}
