package resilience

import (
	"errors"
	"fmt"
)

// Predefined errors for rejected calls.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and the
	// cooldown has not elapsed.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrHalfOpenLimit is returned when the half-open trial slots are taken.
	ErrHalfOpenLimit = errors.New("circuit breaker half-open limit reached")
)

// RejectedError is returned when a breaker refuses to run the protected
// operation. The operation was not invoked.
type RejectedError struct {
	// Name is the breaker that rejected the call.
	Name string

	// Err is ErrCircuitOpen or ErrHalfOpenLimit.
	Err error
}

func (e *RejectedError) Error() string {
	if e.Name == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// CircuitOpen marks the error as a fast-fail rejection rather than a failure
// of the protected call.
func (e *RejectedError) CircuitOpen() bool {
	return true
}

// IsRejected reports whether err is a breaker rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
