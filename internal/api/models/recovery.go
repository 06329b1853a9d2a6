package models

import (
	"strings"

	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/ledger"
	"github.com/docsmith/docsmith/internal/recovery"
)

const (
	maxMessageLength = 4096
	maxStackLength   = 16384
)

// ErrorReport is the body of POST /v1/errors: a failure observed by the
// editor.
type ErrorReport struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Context string `json:"context,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Validate returns the field errors of the report.
func (r ErrorReport) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.Message) == "" {
		errs = append(errs, FieldError{Field: "message", Message: "message is required", Code: CodeRequired})
	} else if len(r.Message) > maxMessageLength {
		errs = append(errs, FieldError{Field: "message", Message: "message is too long", Code: CodeInvalid})
	}
	if len(r.Stack) > maxStackLength {
		errs = append(errs, FieldError{Field: "stack", Message: "stack is too long", Code: CodeInvalid})
	}
	return errs
}

// RecoveryOutcome is the result of a recovery attempt.
type RecoveryOutcome struct {
	Succeeded         bool                     `json:"succeeded"`
	Strategy          string                   `json:"strategy"`
	Category          classifier.Category      `json:"category"`
	FeatureChanges    []recovery.FeatureChange `json:"featureChanges"`
	Message           string                   `json:"message"`
	RetryAfterSeconds float64                  `json:"retryAfterSeconds,omitempty"`
	LikelyRecoverable bool                     `json:"likelyRecoverable"`
	HealthScore       float64                  `json:"healthScore"`
}

// NewRecoveryOutcome converts an executor result.
func NewRecoveryOutcome(r recovery.Result) RecoveryOutcome {
	changes := r.FeatureChanges
	if changes == nil {
		changes = []recovery.FeatureChange{}
	}
	return RecoveryOutcome{
		Succeeded:         r.Succeeded,
		Strategy:          r.Strategy,
		Category:          r.Category,
		FeatureChanges:    changes,
		Message:           r.Message,
		RetryAfterSeconds: r.RetryAfter.Seconds(),
		LikelyRecoverable: r.LikelyRecoverable,
		HealthScore:       r.HealthScore,
	}
}

// ErrorReportResponse is the response to POST /v1/errors.
type ErrorReportResponse struct {
	Error    classifier.ClassifiedError `json:"error"`
	Recovery RecoveryOutcome            `json:"recovery"`
}

// CategoryReport is the body of GET /v1/recovery/categories/{category}.
type CategoryReport struct {
	ledger.CategoryInfo
	LikelyRecoverable bool `json:"likelyRecoverable"`
}

// ErrorList is the body of GET /v1/recovery/errors.
type ErrorList struct {
	Errors []ledger.Occurrence `json:"errors"`
	Limit  int                 `json:"limit"`
}

// FrequentCategories is the body of GET /v1/recovery/frequent.
type FrequentCategories struct {
	Window     string                 `json:"window"`
	Categories []ledger.CategoryCount `json:"categories"`
}
