package kvstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/docsmith/docsmith/internal/resilience"
)

// GuardedConfig holds configuration for a GuardedStore.
type GuardedConfig struct {
	Breaker *resilience.Breaker
	Retry   resilience.RetryPolicy
	Logger  zerolog.Logger
}

// GuardedStore protects another Store with a circuit breaker and backoff
// retries. A missing key is a normal result and never counts as a failure.
type GuardedStore struct {
	next    Store
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
	logger  zerolog.Logger
}

// Ensure GuardedStore implements Store.
var _ Store = (*GuardedStore)(nil)

// NewGuardedStore wraps next.
func NewGuardedStore(next Store, cfg GuardedConfig) *GuardedStore {
	b := cfg.Breaker
	if b == nil {
		bc := resilience.DefaultBreakerConfig("kvstore")
		bc.Logger = cfg.Logger
		b = resilience.NewBreaker(bc)
	}
	return &GuardedStore{
		next:    next,
		breaker: b,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
	}
}

// Breaker returns the breaker protecting the store.
func (s *GuardedStore) Breaker() *resilience.Breaker {
	return s.breaker
}

type lookup struct {
	value []byte
	found bool
}

// Get returns the value stored under key.
func (s *GuardedStore) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := resilience.RetryWithData(ctx, s.breaker, s.retry, func(ctx context.Context) (lookup, error) {
		v, err := s.next.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return lookup{}, nil
		}
		if err != nil {
			return lookup{}, err
		}
		return lookup{value: v, found: true}, nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("store read failed")
		return nil, err
	}
	if !res.found {
		return nil, ErrNotFound
	}
	return res.value, nil
}

// Set stores value under key.
func (s *GuardedStore) Set(ctx context.Context, key string, value []byte) error {
	err := resilience.Retry(ctx, s.breaker, s.retry, func(ctx context.Context) error {
		return s.next.Set(ctx, key, value)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("store write failed")
	}
	return err
}

// Remove deletes key.
func (s *GuardedStore) Remove(ctx context.Context, key string) error {
	err := resilience.Retry(ctx, s.breaker, s.retry, func(ctx context.Context) error {
		return s.next.Remove(ctx, key)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("store remove failed")
	}
	return err
}

// Ping checks the wrapped store directly. Readiness checks must not count
// against the breaker.
func (s *GuardedStore) Ping(ctx context.Context) error {
	return Ping(ctx, s.next)
}
