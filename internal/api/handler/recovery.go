package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/api/response"
	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/ledger"
)

const (
	defaultErrorLimit = 20
	maxErrorLimit     = 100
	defaultWindow     = time.Hour
)

// RecoveryHandler serves recovery ledger queries.
type RecoveryHandler struct {
	ledger *ledger.Ledger
}

// NewRecoveryHandler creates a new RecoveryHandler.
func NewRecoveryHandler(l *ledger.Ledger) *RecoveryHandler {
	return &RecoveryHandler{ledger: l}
}

// ListCategories handles GET /v1/recovery/categories.
func (h *RecoveryHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	infos := h.ledger.Categories()
	reports := make([]models.CategoryReport, 0, len(infos))
	for _, info := range infos {
		reports = append(reports, models.CategoryReport{
			CategoryInfo:      info,
			LikelyRecoverable: h.ledger.IsLikelyRecoverable(info.Category),
		})
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"categories": reports})
}

// GetCategory handles GET /v1/recovery/categories/{category}.
func (h *RecoveryHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := classifier.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "category", Message: "unknown error category", Code: models.CodeUnknown},
		})
		return
	}

	info, ok := h.ledger.CategoryInfo(category)
	if !ok {
		response.NotFound(w, r, "no failures recorded for "+string(category))
		return
	}
	response.JSON(w, r, http.StatusOK, models.CategoryReport{
		CategoryInfo:      info,
		LikelyRecoverable: h.ledger.IsLikelyRecoverable(category),
	})
}

// ListErrors handles GET /v1/recovery/errors?category=&context=&limit=.
// A context filter takes precedence over category.
func (h *RecoveryHandler) ListErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultErrorLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxErrorLimit {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: "limit must be between 1 and 100", Code: models.CodeInvalid},
			})
			return
		}
		limit = n
	}

	if site := q.Get("context"); site != "" {
		response.JSON(w, r, http.StatusOK, models.ErrorList{
			Errors: h.ledger.ErrorsByContext(site, limit),
			Limit:  limit,
		})
		return
	}

	var category *classifier.Category
	if raw := q.Get("category"); raw != "" {
		c, err := classifier.ParseCategory(raw)
		if err != nil {
			response.BadRequest(w, r, err.Error(), []models.FieldError{
				{Field: "category", Message: "unknown error category", Code: models.CodeUnknown},
			})
			return
		}
		category = &c
	}

	response.JSON(w, r, http.StatusOK, models.ErrorList{
		Errors: h.ledger.RecentErrors(category, limit),
		Limit:  limit,
	})
}

// FrequentCategories handles GET /v1/recovery/frequent?window=1h.
func (h *RecoveryHandler) FrequentCategories(w http.ResponseWriter, r *http.Request) {
	window := defaultWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			response.BadRequest(w, r, "invalid window", []models.FieldError{
				{Field: "window", Message: "window must be a positive duration such as 15m or 1h", Code: models.CodeInvalid},
			})
			return
		}
		window = d
	}

	response.JSON(w, r, http.StatusOK, models.FrequentCategories{
		Window:     window.String(),
		Categories: h.ledger.MostFrequentCategories(window),
	})
}
