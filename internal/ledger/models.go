// Package ledger records error occurrences and per-category recovery
// statistics, and estimates which categories are likely to recover.
package ledger

import (
	"sort"
	"time"

	"github.com/docsmith/docsmith/internal/classifier"
)

// Store keys for the persisted ledger.
const (
	HistoryKey    = "recovery.history"
	CategoriesKey = "recovery.categories"
)

// DefaultMaxHistory is the number of occurrences kept, newest first.
const DefaultMaxHistory = 100

// Occurrence is one recorded failure.
type Occurrence struct {
	ID                string              `json:"id"`
	Category          classifier.Category `json:"category"`
	Message           string              `json:"message"`
	Context           string              `json:"context"`
	Timestamp         time.Time           `json:"timestamp"`
	RecoveryAttempted bool                `json:"recovery_attempted"`
	RecoverySucceeded bool                `json:"recovery_succeeded"`
	Stack             string              `json:"stack,omitempty"`
}

// Record is the input to RecordOccurrence.
type Record struct {
	Category          classifier.Category
	Message           string
	Context           string
	RecoveryAttempted bool
	RecoverySucceeded bool
	Stack             string
}

// CategoryInfo aggregates every occurrence of one category.
type CategoryInfo struct {
	Category          classifier.Category `json:"category"`
	Occurrences       int                 `json:"occurrences"`
	Contexts          []string            `json:"contexts"`
	RecoveryAttempted int                 `json:"recovery_attempted"`
	RecoverySucceeded int                 `json:"recovery_succeeded"`
	RecoveryRate      float64             `json:"recovery_rate"`
	FirstOccurrence   time.Time           `json:"first_occurrence"`
	LastOccurrence    time.Time           `json:"last_occurrence"`
}

// CategoryCount is one row of MostFrequentCategories.
type CategoryCount struct {
	Category classifier.Category `json:"category"`
	Count    int                 `json:"count"`
}

func (c *CategoryInfo) addContext(ctx string) {
	if ctx == "" {
		return
	}
	i := sort.SearchStrings(c.Contexts, ctx)
	if i < len(c.Contexts) && c.Contexts[i] == ctx {
		return
	}
	c.Contexts = append(c.Contexts, "")
	copy(c.Contexts[i+1:], c.Contexts[i:])
	c.Contexts[i] = ctx
}

func (c *CategoryInfo) recordOutcome(succeeded bool) {
	c.RecoveryAttempted++
	if succeeded {
		c.RecoverySucceeded++
	}
	c.recomputeRate()
}

func (c *CategoryInfo) recomputeRate() {
	if c.RecoveryAttempted == 0 {
		c.RecoveryRate = 0
		return
	}
	c.RecoveryRate = float64(c.RecoverySucceeded) / float64(c.RecoveryAttempted)
}

func (c *CategoryInfo) clone() CategoryInfo {
	out := *c
	out.Contexts = make([]string, len(c.Contexts))
	copy(out.Contexts, c.Contexts)
	return out
}
