package durability

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/durable/internal/oplog"
)

// Retry runs op until it succeeds, fails with an error not marked Transient,
// or the worker's retry policy is exhausted. Non-idempotent remote writes run
// exactly once.
func Retry[Out any](ctx context.Context, st *State, ft oplog.FunctionType, op func(context.Context) (Out, error)) (Out, error) {
	policy := st.RetryPolicy
	if !retryable(st, ft) || policy.MaxAttempts <= 1 {
		return op(ctx)
	}

	attempt := 0
	operation := func() (Out, error) {
		attempt++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !IsTransient(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exponential(policy)),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			st.logger().Warn("host call failed, retrying",
				"worker", st.WorkerID(),
				"attempt", attempt,
				"next", next,
				"error", err,
			)
		}),
	)
	// A permanent error on the last allowed attempt comes back still wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return out, err
}

func retryable(st *State, ft oplog.FunctionType) bool {
	return ft != oplog.WriteRemote || st.AssumeIdempotence
}

func exponential(p oplog.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = 0
	return b
}
