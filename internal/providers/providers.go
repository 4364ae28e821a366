package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProvider is returned when every ranked attempt failed.
var ErrNoProvider = errors.New("no provider succeeded")

// Attempt is one ranked candidate for producing a value of type T.
type Attempt[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// FirstSuccess tries attempts in priority order and returns the first result,
// along with the name of the provider that produced it. logf receives one
// line per failed attempt.
func FirstSuccess[T any](ctx context.Context, attempts []Attempt[T], logf func(format string, args ...any)) (T, string, error) {
	var zero T
	var lastErr error

	for _, a := range attempts {
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}
		v, err := a.Run(ctx)
		if err == nil {
			return v, a.Name, nil
		}
		lastErr = err
		if logf != nil {
			logf("provider %s failed: %v", a.Name, err)
		}
	}

	if lastErr != nil {
		return zero, "", fmt.Errorf("%w: %v", ErrNoProvider, lastErr)
	}
	return zero, "", ErrNoProvider
}
