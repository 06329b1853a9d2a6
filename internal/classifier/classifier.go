package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// ClassifiedError is the normalized view of a raw failure.
// It is produced once per failure and never mutated.
type ClassifiedError struct {
	// Original is the error that was classified. May be nil.
	Original error `json:"-"`

	// Message is safe to show to the user.
	Message string `json:"message"`

	// TechnicalMessage is the raw diagnostic string.
	TechnicalMessage string `json:"technicalMessage"`

	Category        Category `json:"category"`
	IsRecoverable   bool     `json:"isRecoverable"`
	Severity        Severity `json:"severity"`
	SuggestedAction string   `json:"suggestedAction,omitempty"`

	// Context is the call site the failure was reported from.
	Context string `json:"context,omitempty"`
}

func (e ClassifiedError) Error() string {
	if e.TechnicalMessage != "" {
		return fmt.Sprintf("%s: %s", e.Category, e.TechnicalMessage)
	}
	return string(e.Category)
}

func (e ClassifiedError) Unwrap() error {
	return e.Original
}

// Named is implemented by errors that carry a type name such as
// "NetworkError" or "TypeError", usually reported by a browser collaborator.
type Named interface {
	ErrorName() string
}

type namedError struct {
	name string
	err  error
}

func (e *namedError) Error() string     { return e.err.Error() }
func (e *namedError) Unwrap() error     { return e.err }
func (e *namedError) ErrorName() string { return e.name }

// WithName attaches a type name hint to err.
func WithName(err error, name string) error {
	if err == nil {
		return nil
	}
	return &namedError{name: name, err: err}
}

// rejection matches the fast-fail errors raised by circuit breakers.
type rejection interface {
	CircuitOpen() bool
}

type profile struct {
	recoverable bool
	severity    Severity
	message     string
	action      string
}

var profiles = map[Category]profile{
	CategoryNetwork:          {true, SeverityMedium, "We couldn't reach the server. Your changes are kept locally.", "Check your connection; work continues offline."},
	CategoryAuthentication:   {true, SeverityMedium, "Your sign-in needs to be refreshed.", "Sign in again to continue."},
	CategoryAuthorization:    {false, SeverityHigh, "You don't have access to this action.", "Ask the document owner for access."},
	CategoryPermission:       {false, SeverityHigh, "Permission to perform this action was denied.", "Request the required permission from an administrator."},
	CategoryValidation:       {false, SeverityLow, "Some of the information entered is not valid.", "Review the highlighted fields and try again."},
	CategoryStorage:          {true, SeverityHigh, "Local storage is full or unavailable.", "Free up space or clear cached data."},
	CategoryDatabase:         {true, SeverityHigh, "We couldn't save to the database.", "Retry in a moment."},
	CategoryTimeout:          {true, SeverityMedium, "The operation took too long.", "Retry; heavy features may be paused."},
	CategoryRateLimit:        {true, SeverityLow, "Too many requests were sent in a short time.", "Wait briefly before retrying."},
	CategoryServer:           {true, SeverityHigh, "The server ran into a problem.", "Retry later."},
	CategoryResourceNotFound: {false, SeverityMedium, "The requested item could not be found.", "Check that the item still exists."},
	CategoryCompatibility:    {false, SeverityHigh, "This browser does not support a required feature.", "Update your browser."},
	CategoryFormat:           {false, SeverityMedium, "The data is in an unexpected format.", "Re-export the file and try again."},
	CategorySyntax:           {false, SeverityHigh, "The content could not be parsed.", "Fix the syntax error and try again."},
	CategoryRuntime:          {false, SeverityHigh, "Something went wrong in the editor.", "Reload the editor."},
	CategorySession:          {true, SeverityMedium, "Your editing session has expired.", "Reopen the document to start a new session."},
	CategoryFileSize:         {false, SeverityMedium, "The file is too large.", "Reduce the file size or split the document."},
	CategoryCritical:         {false, SeverityCritical, "The editor hit a critical error.", "Save a local backup and reload."},
	CategoryUnknown:          {false, SeverityMedium, "An unexpected error occurred.", ""},
}

// Classify maps err, reported from the call site described by site, to a
// ClassifiedError. It is deterministic and never panics: anything that cannot
// be classified degrades to CategoryUnknown.
func Classify(err error, site string) (ce ClassifiedError) {
	defer func() {
		if r := recover(); r != nil {
			ce = build(err, site, CategoryUnknown, fmt.Sprintf("unclassifiable error: %v", r))
		}
	}()

	if err == nil {
		return build(nil, site, CategoryUnknown, "")
	}

	technical := err.Error()
	category, viaNetworkHint := categorize(err, strings.ToLower(technical), strings.ToLower(errorName(err)))
	category = refineByContext(category, strings.ToLower(site), strings.ToLower(technical))

	ce = build(err, site, category, technical)
	if !viaNetworkHint {
		ce.Severity = escalate(err, ce.Severity)
	}
	return ce
}

func build(err error, site string, category Category, technical string) ClassifiedError {
	p := profiles[category]
	return ClassifiedError{
		Original:         err,
		Message:          p.message,
		TechnicalMessage: technical,
		Category:         category,
		IsRecoverable:    p.recoverable,
		Severity:         p.severity,
		SuggestedAction:  p.action,
		Context:          site,
	}
}

// categorize applies the ordered rule set. The second return value reports
// whether the failure was identified as a network failure by its type.
func categorize(err error, msg, name string) (Category, bool) {
	var rej rejection
	if errors.As(err, &rej) && rej.CircuitOpen() {
		return CategoryServer, false
	}

	if isTimeout(err) {
		return CategoryTimeout, false
	}

	if isNetworkType(err, msg, name) {
		return CategoryNetwork, true
	}
	if containsAny(msg, "network", "fetch", "connection", "offline") {
		return CategoryNetwork, false
	}

	if strings.Contains(name, "authorization") {
		return CategoryAuthorization, false
	}

	text := msg + " " + name
	if containsAny(text, "auth", "login", "token", "unauthorized") || containsStatus(text, "401") {
		return CategoryAuthentication, false
	}

	if errors.Is(err, os.ErrPermission) ||
		containsAny(text, "permission", "denied", "forbidden") || containsStatus(text, "403") {
		return CategoryPermission, false
	}

	return categorizeSupplementary(err, msg, name), false
}

func categorizeSupplementary(err error, msg, name string) Category {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		rtErr     runtime.Error
	)

	switch {
	case errors.As(err, &rtErr):
		return CategoryRuntime
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return CategoryTimeout
	case containsAny(msg, "rate limit", "too many requests", "throttl") || containsStatus(msg, "429"):
		return CategoryRateLimit
	case containsAny(msg, "too large", "size limit", "exceeds maximum size"):
		return CategoryFileSize
	case containsAny(msg, "quota", "storage", "disk full", "no space left"):
		return CategoryStorage
	case containsAny(msg, "database", "sql", "transaction"):
		return CategoryDatabase
	case errors.Is(err, os.ErrNotExist) || containsAny(msg, "not found", "no such") || containsStatus(msg, "404"):
		return CategoryResourceNotFound
	case containsAny(msg, "server error", "internal error", "service unavailable", "bad gateway") ||
		containsStatus(msg, "500") || containsStatus(msg, "502") || containsStatus(msg, "503") || containsStatus(msg, "504"):
		return CategoryServer
	case errors.As(err, &syntaxErr) || strings.Contains(msg, "syntax") || name == "syntaxerror":
		return CategorySyntax
	case errors.As(err, &typeErr) || containsAny(msg, "malformed", "format", "unexpected end of json"):
		return CategoryFormat
	case containsAny(msg, "invalid", "validation", "required"):
		return CategoryValidation
	case containsAny(msg, "not supported", "unsupported", "incompatible"):
		return CategoryCompatibility
	case strings.Contains(msg, "session"):
		return CategorySession
	case containsAny(msg, "out of memory", "fatal"):
		return CategoryCritical
	case name == "typeerror" || name == "rangeerror" || name == "referenceerror":
		return CategoryRuntime
	}
	return CategoryUnknown
}

// refineByContext lets the reporting call site sharpen a weak classification.
func refineByContext(category Category, ctx, msg string) Category {
	if ctx == "" {
		return category
	}
	if containsAny(ctx, "auth", "login") && (category == CategoryUnknown || category == CategoryAuthentication) {
		if strings.Contains(ctx, "session") {
			return CategorySession
		}
		return CategoryAuthentication
	}
	if strings.Contains(ctx, "document") && strings.Contains(msg, "size") {
		switch category {
		case CategoryUnknown, CategoryValidation, CategoryServer:
			return CategoryFileSize
		}
	}
	return category
}

// escalate raises severity for failures whose type signals a programming error.
func escalate(err error, current Severity) Severity {
	name := strings.ToLower(errorName(err))

	var rtErr runtime.Error
	if errors.As(err, &rtErr) || name == "rangeerror" || name == "referenceerror" {
		return SeverityCritical
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || name == "typeerror" || name == "syntaxerror" {
		if !current.AtLeast(SeverityHigh) {
			return SeverityHigh
		}
	}
	return current
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkType(err error, msg, name string) bool {
	if name == "networkerror" {
		return true
	}
	if name == "typeerror" && strings.Contains(msg, "failed to fetch") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func errorName(err error) string {
	var named Named
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// containsStatus finds an HTTP status code that is not part of a longer number.
func containsStatus(s, code string) bool {
	for i := 0; i+len(code) <= len(s); {
		idx := strings.Index(s[i:], code)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(code)
		before := start == 0 || !isDigit(s[start-1])
		after := end == len(s) || !isDigit(s[end])
		if before && after {
			return true
		}
		i = start + 1
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
