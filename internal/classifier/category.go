// Package classifier maps raw failures to a structured category, severity and
// suggested action. It has no dependencies on the rest of the engine so every
// other package can classify errors without import cycles.
package classifier

import (
	"fmt"
	"strings"
)

// Category identifies the kind of failure.
// Categories are string-based for debuggability and natural JSON serialization.
type Category string

const (
	// Connectivity and transport.

	// CategoryNetwork indicates the request never reached its destination.
	CategoryNetwork Category = "NETWORK"

	// CategoryTimeout indicates an operation exceeded its time limit.
	CategoryTimeout Category = "TIMEOUT"

	// CategoryRateLimit indicates the caller is being throttled.
	CategoryRateLimit Category = "RATE_LIMIT"

	// CategoryServer indicates the remote side failed.
	CategoryServer Category = "SERVER"

	// Identity and access.

	// CategoryAuthentication indicates missing or invalid credentials.
	CategoryAuthentication Category = "AUTHENTICATION"

	// CategoryAuthorization indicates the identity is known but not allowed.
	CategoryAuthorization Category = "AUTHORIZATION"

	// CategoryPermission indicates a resource-level permission was denied.
	CategoryPermission Category = "PERMISSION"

	// CategorySession indicates the editing session expired or was invalidated.
	CategorySession Category = "SESSION"

	// Data.

	// CategoryValidation indicates user input was rejected.
	CategoryValidation Category = "VALIDATION"

	// CategoryStorage indicates local storage is full or unavailable.
	CategoryStorage Category = "STORAGE"

	// CategoryDatabase indicates a database operation failed.
	CategoryDatabase Category = "DATABASE"

	// CategoryResourceNotFound indicates the requested resource does not exist.
	CategoryResourceNotFound Category = "RESOURCE_NOT_FOUND"

	// CategoryFormat indicates data could not be decoded into the expected shape.
	CategoryFormat Category = "FORMAT"

	// CategorySyntax indicates malformed input that could not be parsed.
	CategorySyntax Category = "SYNTAX"

	// CategoryFileSize indicates a document or upload exceeded a size limit.
	CategoryFileSize Category = "FILE_SIZE"

	// Runtime.

	// CategoryCompatibility indicates the host lacks a required capability.
	CategoryCompatibility Category = "COMPATIBILITY"

	// CategoryRuntime indicates a programming error surfaced at runtime.
	CategoryRuntime Category = "RUNTIME"

	// CategoryCritical indicates the process is in an unrecoverable state.
	CategoryCritical Category = "CRITICAL"

	// CategoryUnknown indicates the failure could not be classified.
	CategoryUnknown Category = "UNKNOWN"
)

var allCategories = []Category{
	CategoryNetwork,
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryPermission,
	CategoryValidation,
	CategoryStorage,
	CategoryDatabase,
	CategoryTimeout,
	CategoryRateLimit,
	CategoryServer,
	CategoryResourceNotFound,
	CategoryCompatibility,
	CategoryFormat,
	CategorySyntax,
	CategoryRuntime,
	CategorySession,
	CategoryFileSize,
	CategoryCritical,
	CategoryUnknown,
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory converts s (case-insensitive) into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown error category %q", s)
	}
	return c, nil
}

// Severity ranks how disruptive a failure is for the user.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}
