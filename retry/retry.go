package retry

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rotisserie/eris"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 500 * time.Millisecond
)

// Policy bounds a remote round trip: a fixed attempt count with a fixed delay
// between attempts. AttemptTimeout, when nonzero, caps each individual attempt
// via a derived context.
type Policy struct {
	Attempts       int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultDelay
	}
	return p
}

// Do runs op until it returns a valid result or the policy's attempts are
// exhausted. A nil isValid accepts any result that isn't the type's zero
// value. When swallow is true, exhaustion returns the zero value and a nil
// error instead of the joined attempt errors; context cancellation is
// returned either way.
func Do[T any](
	ctx context.Context,
	policy Policy,
	op func(ctx context.Context) (T, error),
	isValid func(result T) bool,
	swallow bool,
) (T, error) {
	var zero T

	policy = policy.withDefaults()
	if isValid == nil {
		isValid = func(result T) bool {
			return !reflect.ValueOf(&result).Elem().IsZero()
		}
	}

	var attemptErrors []error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(policy.Delay):
			}
		}

		result, err := runAttempt(ctx, policy, op)
		if err == nil && isValid(result) {
			return result, nil
		}

		if err == nil {
			err = eris.Errorf("attempt %d returned an invalid result", attempt+1)
		}
		attemptErrors = append(attemptErrors, err)

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	if swallow {
		return zero, nil
	}

	return zero, eris.Wrapf(errors.Join(attemptErrors...), "exhausted %d attempts", policy.Attempts)
}

func runAttempt[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if policy.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}
