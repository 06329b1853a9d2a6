// Package resilience protects risky operations with circuit breakers and
// backoff retries.
package resilience

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Status is the state of a circuit breaker.
type Status string

const (
	StatusClosed   Status = "CLOSED"
	StatusOpen     Status = "OPEN"
	StatusHalfOpen Status = "HALF_OPEN"
)

const maxHistoryEntries = 100

func statusFrom(s gobreaker.State) Status {
	switch s {
	case gobreaker.StateOpen:
		return StatusOpen
	case gobreaker.StateHalfOpen:
		return StatusHalfOpen
	default:
		return StatusClosed
	}
}

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// Name identifies the protected operation for logging/metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open after the last failure
	// before a trial call is allowed.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenCalls is the maximum number of trial calls admitted while half-open.
	// Default: 1
	HalfOpenCalls uint32

	Logger zerolog.Logger
}

// DefaultBreakerConfig returns the default configuration for the named operation.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenCalls:    1,
		Logger:           zerolog.Nop(),
	}
}

// StateChange records one transition of a breaker.
type StateChange struct {
	Name     string    `json:"name"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	At       time.Time `json:"at"`
	Failures int       `json:"failures"`
}

// Breaker is a circuit breaker around one named operation.
// It is safe for concurrent use.
type Breaker struct {
	cfg    BreakerConfig
	logger zerolog.Logger

	mu          sync.Mutex
	inner       *gobreaker.CircuitBreaker[any]
	epoch       uint64
	failures    int
	lastFailure time.Time
	history     []StateChange
	pending     []StateChange
	observers   map[uint64]func(StateChange)
	nextID      uint64
}

// NewBreaker creates a closed circuit breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenCalls == 0 {
		cfg.HalfOpenCalls = 1
	}

	b := &Breaker{
		cfg:       cfg,
		logger:    cfg.Logger.With().Str("breaker", cfg.Name).Logger(),
		observers: make(map[uint64]func(StateChange)),
	}
	b.inner = b.newInner(b.epoch)
	return b
}

// newInner builds the underlying state machine. Transitions reported by an
// inner breaker from an older epoch are ignored.
func (b *Breaker) newInner(epoch uint64) *gobreaker.CircuitBreaker[any] {
	threshold := b.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        b.cfg.Name,
		MaxRequests: b.cfg.HalfOpenCalls,
		Timeout:     b.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if epoch != b.epoch {
				return
			}
			b.recordLocked(statusFrom(from), statusFrom(to))
		},
	})
}

// Name returns the name of the protected operation.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Config returns the effective configuration.
func (b *Breaker) Config() BreakerConfig {
	return b.cfg
}

// Execute runs fn if the breaker admits the call. Failures of fn are returned
// unchanged; rejected calls return a *RejectedError without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := Call(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Call runs fn through the breaker and returns its result.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	inner := b.current()
	invoked := false

	defer b.flush()

	res, err := inner.Execute(func() (any, error) {
		invoked = true
		succeeded := false
		// Failures and panics are counted before the inner breaker decides
		// whether to trip, so the recorded transition carries the count.
		defer func() {
			if !succeeded {
				b.onFailure(inner)
			}
		}()
		v, err := fn()
		succeeded = err == nil
		return v, err
	})

	if err != nil {
		if !invoked {
			return zero, b.rejection(err)
		}
		return zero, err
	}

	b.onSuccess(inner)
	v, _ := res.(T)
	return v, nil
}

func (b *Breaker) rejection(err error) error {
	reason := ErrCircuitOpen
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = ErrHalfOpenLimit
	}
	b.logger.Debug().Err(reason).Msg("call rejected")
	return &RejectedError{Name: b.cfg.Name, Err: reason}
}

func (b *Breaker) current() *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inner
}

// onFailure ignores calls admitted by a superseded inner breaker, such as a
// slow half-open call finishing after the circuit closed or a call in flight
// across Reset.
func (b *Breaker) onFailure(inner *gobreaker.CircuitBreaker[any]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inner != inner {
		return
	}
	b.failures++
	b.lastFailure = time.Now()
}

func (b *Breaker) onSuccess(inner *gobreaker.CircuitBreaker[any]) {
	state := inner.State()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inner != inner {
		return
	}
	switch state {
	case gobreaker.StateClosed:
		b.failures = 0
	case gobreaker.StateHalfOpen:
		// A successful trial call closes the circuit even when more than one
		// trial slot is configured.
		b.epoch++
		b.inner = b.newInner(b.epoch)
		b.recordLocked(StatusHalfOpen, StatusClosed)
	}
}

func (b *Breaker) recordLocked(from, to Status) {
	if to == StatusClosed {
		b.failures = 0
	}
	change := StateChange{
		Name:     b.cfg.Name,
		From:     from,
		To:       to,
		At:       time.Now(),
		Failures: b.failures,
	}
	b.history = append(b.history, change)
	if len(b.history) > maxHistoryEntries {
		b.history = b.history[len(b.history)-maxHistoryEntries:]
	}
	b.pending = append(b.pending, change)
}

// flush delivers queued transitions to observers outside of any lock.
func (b *Breaker) flush() {
	b.mu.Lock()
	events := b.pending
	b.pending = nil
	ids := make([]uint64, 0, len(b.observers))
	for id := range b.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	observers := make([]func(StateChange), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, b.observers[id])
	}
	b.mu.Unlock()

	for _, change := range events {
		b.logger.Info().
			Str("from", string(change.From)).
			Str("to", string(change.To)).
			Int("failures", change.Failures).
			Msg("circuit breaker state changed")
		for _, observe := range observers {
			observe(change)
		}
	}
}

// Status returns the current state. An open breaker whose cooldown has
// elapsed reports HALF_OPEN.
func (b *Breaker) Status() Status {
	state := b.current().State()
	b.flush()
	return statusFrom(state)
}

// Failures returns the number of consecutive failures recorded since the
// breaker last closed.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastFailure returns the time of the most recent failure, if any.
func (b *Breaker) LastFailure() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure, !b.lastFailure.IsZero()
}

// SinceLastFailure returns the time elapsed since the most recent failure.
func (b *Breaker) SinceLastFailure() (time.Duration, bool) {
	last, ok := b.LastFailure()
	if !ok {
		return 0, false
	}
	return time.Since(last), true
}

// History returns the recorded transitions, oldest first.
func (b *Breaker) History() []StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StateChange, len(b.history))
	copy(out, b.history)
	return out
}

// Subscribe registers fn to be called after every state change. The returned
// function removes the subscription.
func (b *Breaker) Subscribe(fn func(StateChange)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.observers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
	}
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	previous := statusFrom(b.current().State())

	b.mu.Lock()
	b.epoch++
	b.inner = b.newInner(b.epoch)
	b.failures = 0
	b.lastFailure = time.Time{}
	if previous != StatusClosed {
		b.recordLocked(previous, StatusClosed)
	}
	b.mu.Unlock()

	b.flush()
}
