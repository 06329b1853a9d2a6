package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/health"
	"github.com/docsmith/docsmith/internal/kvstore"
)

// Health nudges applied after each record.
const (
	occurrencePenalty = -2.0
	recoveryReward    = 1.0
	recoveryPenalty   = -2.0
)

// HealthNudger receives aspect adjustments as occurrences are recorded.
type HealthNudger interface {
	AdjustAspect(name health.Aspect, delta float64) error
}

// Config holds configuration for the ledger.
type Config struct {
	// Store persists history and category statistics. Defaults to an
	// in-memory store.
	Store kvstore.Store

	Logger zerolog.Logger

	// Health is nudged after each record. Optional.
	Health HealthNudger

	// MaxHistory bounds the occurrence history.
	// Default: 100
	MaxHistory int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Ledger is the recovery ledger. It is safe for concurrent use.
type Ledger struct {
	store      kvstore.Store
	logger     zerolog.Logger
	health     HealthNudger
	maxHistory int
	now        func() time.Time

	mu         sync.Mutex
	history    []Occurrence
	categories map[classifier.Category]*CategoryInfo

	persistMu sync.Mutex
}

// New creates a ledger and loads any persisted state. Missing or corrupt
// records start empty.
func New(ctx context.Context, cfg Config) *Ledger {
	l := &Ledger{
		store:      cfg.Store,
		logger:     cfg.Logger,
		health:     cfg.Health,
		maxHistory: cfg.MaxHistory,
		now:        cfg.Now,
		categories: make(map[classifier.Category]*CategoryInfo),
	}
	if l.store == nil {
		l.store = kvstore.NewMemoryStore()
	}
	if l.maxHistory <= 0 {
		l.maxHistory = DefaultMaxHistory
	}
	if l.now == nil {
		l.now = time.Now
	}

	l.load(ctx)
	return l
}

func (l *Ledger) load(ctx context.Context) {
	var history []Occurrence
	if err := kvstore.GetJSON(ctx, l.store, HistoryKey, &history); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		l.logger.Warn().Err(err).Msg("discarding unreadable recovery history")
		history = nil
	}

	var infos []CategoryInfo
	if err := kvstore.GetJSON(ctx, l.store, CategoriesKey, &infos); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		l.logger.Warn().Err(err).Msg("discarding unreadable recovery analytics")
		infos = nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range history {
		if !o.Category.Valid() {
			continue
		}
		l.history = append(l.history, o)
		if len(l.history) == l.maxHistory {
			break
		}
	}
	for i := range infos {
		info := infos[i]
		if !info.Category.Valid() {
			continue
		}
		if info.Contexts == nil {
			info.Contexts = []string{}
		}
		sort.Strings(info.Contexts)
		info.recomputeRate()
		l.categories[info.Category] = &info
	}
}

// RecordOccurrence appends an occurrence and updates its category statistics.
func (l *Ledger) RecordOccurrence(ctx context.Context, r Record) Occurrence {
	if !r.Category.Valid() {
		r.Category = classifier.CategoryUnknown
	}
	// a success without an attempt is not meaningful
	if !r.RecoveryAttempted {
		r.RecoverySucceeded = false
	}

	o := Occurrence{
		ID:                uuid.NewString(),
		Category:          r.Category,
		Message:           r.Message,
		Context:           r.Context,
		Timestamp:         l.now(),
		RecoveryAttempted: r.RecoveryAttempted,
		RecoverySucceeded: r.RecoverySucceeded,
		Stack:             r.Stack,
	}

	l.mu.Lock()
	l.history = append([]Occurrence{o}, l.history...)
	if len(l.history) > l.maxHistory {
		l.history = l.history[:l.maxHistory]
	}

	info := l.infoLocked(o.Category)
	info.Occurrences++
	info.addContext(o.Context)
	if info.FirstOccurrence.IsZero() {
		info.FirstOccurrence = o.Timestamp
	}
	info.LastOccurrence = o.Timestamp
	if o.RecoveryAttempted {
		info.recordOutcome(o.RecoverySucceeded)
	}
	l.mu.Unlock()

	l.logger.Debug().
		Str("category", string(o.Category)).
		Str("context", o.Context).
		Bool("recovery_attempted", o.RecoveryAttempted).
		Bool("recovery_succeeded", o.RecoverySucceeded).
		Msg("error occurrence recorded")

	l.persist(ctx, true, true)

	l.nudge(health.AspectErrors, occurrencePenalty)
	if o.RecoveryAttempted {
		l.nudgeOutcome(o.RecoverySucceeded)
	}
	return o
}

// RecordRecoveryOutcome records a recovery attempt without a new occurrence,
// for steps retried after the original failure was logged.
func (l *Ledger) RecordRecoveryOutcome(ctx context.Context, category classifier.Category, site string, succeeded bool) {
	if !category.Valid() {
		category = classifier.CategoryUnknown
	}

	l.mu.Lock()
	info := l.infoLocked(category)
	info.addContext(site)
	info.recordOutcome(succeeded)
	l.mu.Unlock()

	l.persist(ctx, false, true)
	l.nudgeOutcome(succeeded)
}

func (l *Ledger) infoLocked(category classifier.Category) *CategoryInfo {
	info, ok := l.categories[category]
	if !ok {
		info = &CategoryInfo{Category: category, Contexts: []string{}}
		l.categories[category] = info
	}
	return info
}

// CategoryInfo returns the statistics for a category.
func (l *Ledger) CategoryInfo(category classifier.Category) (CategoryInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.categories[category]
	if !ok {
		return CategoryInfo{}, false
	}
	return info.clone(), true
}

// Categories returns statistics for every category seen, most frequent first.
func (l *Ledger) Categories() []CategoryInfo {
	l.mu.Lock()
	out := make([]CategoryInfo, 0, len(l.categories))
	for _, info := range l.categories {
		out = append(out, info.clone())
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// RecentErrors returns up to limit occurrences, newest first, optionally
// filtered by category. A non-positive limit returns every match.
func (l *Ledger) RecentErrors(category *classifier.Category, limit int) []Occurrence {
	return l.filter(limit, func(o Occurrence) bool {
		return category == nil || o.Category == *category
	})
}

// ErrorsByContext returns up to limit occurrences recorded for site, newest first.
func (l *Ledger) ErrorsByContext(site string, limit int) []Occurrence {
	return l.filter(limit, func(o Occurrence) bool {
		return o.Context == site
	})
}

func (l *Ledger) filter(limit int, keep func(Occurrence) bool) []Occurrence {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Occurrence, 0)
	for _, o := range l.history {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// MostFrequentCategories ranks the categories seen within window by count,
// descending. A non-positive window covers the whole history.
func (l *Ledger) MostFrequentCategories(window time.Duration) []CategoryCount {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = l.now().Add(-window)
	}

	counts := make(map[classifier.Category]int)
	l.mu.Lock()
	for _, o := range l.history {
		if o.Timestamp.Before(cutoff) {
			continue
		}
		counts[o.Category]++
	}
	l.mu.Unlock()

	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// RecoveryRate returns succeeded/attempted for a category. ok is false when
// no attempt has been recorded.
func (l *Ledger) RecoveryRate(category classifier.Category) (rate float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, found := l.categories[category]
	if !found || info.RecoveryAttempted == 0 {
		return 0, false
	}
	return info.RecoveryRate, true
}

// IsLikelyRecoverable reports whether more than half of the recorded
// recovery attempts for the category succeeded. No data means false.
func (l *Ledger) IsLikelyRecoverable(category classifier.Category) bool {
	rate, ok := l.RecoveryRate(category)
	return ok && rate > 0.5
}

// Len returns the number of occurrences in the history.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// TrimHistory keeps only the newest n occurrences.
func (l *Ledger) TrimHistory(ctx context.Context, n int) int {
	if n < 0 {
		n = 0
	}

	l.mu.Lock()
	removed := 0
	if len(l.history) > n {
		removed = len(l.history) - n
		l.history = l.history[:n]
	}
	l.mu.Unlock()

	if removed > 0 {
		l.persist(ctx, true, false)
	}
	return removed
}

// ClearHistory removes every occurrence. Category statistics are kept.
func (l *Ledger) ClearHistory(ctx context.Context) {
	l.mu.Lock()
	l.history = nil
	l.mu.Unlock()

	l.persist(ctx, true, false)
}

// ResetAnalytics removes every category statistic. The history is kept.
func (l *Ledger) ResetAnalytics(ctx context.Context) {
	l.mu.Lock()
	l.categories = make(map[classifier.Category]*CategoryInfo)
	l.mu.Unlock()

	l.persist(ctx, false, true)
}

// Reset clears both the history and the statistics.
func (l *Ledger) Reset(ctx context.Context) {
	l.mu.Lock()
	l.history = nil
	l.categories = make(map[classifier.Category]*CategoryInfo)
	l.mu.Unlock()

	l.persist(ctx, true, true)
}

// persist writes the requested records. Failures are logged and the ledger
// keeps operating in memory.
func (l *Ledger) persist(ctx context.Context, history, categories bool) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	var historySnapshot []Occurrence
	if history {
		historySnapshot = make([]Occurrence, len(l.history))
		copy(historySnapshot, l.history)
	}
	var infoSnapshot []CategoryInfo
	if categories {
		infoSnapshot = make([]CategoryInfo, 0, len(l.categories))
		for _, info := range l.categories {
			infoSnapshot = append(infoSnapshot, info.clone())
		}
	}
	l.mu.Unlock()

	if history {
		if err := kvstore.SetJSON(ctx, l.store, HistoryKey, historySnapshot); err != nil {
			l.logger.Warn().Err(err).Msg("failed to persist recovery history")
		}
	}
	if categories {
		sort.Slice(infoSnapshot, func(i, j int) bool {
			return infoSnapshot[i].Category < infoSnapshot[j].Category
		})
		if err := kvstore.SetJSON(ctx, l.store, CategoriesKey, infoSnapshot); err != nil {
			l.logger.Warn().Err(err).Msg("failed to persist recovery analytics")
		}
	}
}

func (l *Ledger) nudgeOutcome(succeeded bool) {
	if succeeded {
		l.nudge(health.AspectStability, recoveryReward)
		return
	}
	l.nudge(health.AspectStability, recoveryPenalty)
}

func (l *Ledger) nudge(aspect health.Aspect, delta float64) {
	if l.health == nil {
		return
	}
	if err := l.health.AdjustAspect(aspect, delta); err != nil {
		l.logger.Debug().Err(err).Str("aspect", string(aspect)).Msg("health nudge rejected")
	}
}
