// Package upstream runs calls to external collaborators (identity store,
// profile store, notification dispatcher) under a per-attempt timeout and a
// single retry with exponential backoff.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// CodeUnavailable tags errors returned once the retry budget is spent.
const CodeUnavailable = "UPSTREAM_UNAVAILABLE"

type Policy struct {
	Timeout time.Duration
	// Retries is the number of additional attempts after the first.
	Retries    uint64
	BaseDelay  time.Duration
	MaxJitter  time.Duration
	// Permanent errors are returned on first sight without retrying.
	Permanent []error
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:   5 * time.Second,
		Retries:   1,
		BaseDelay: 100 * time.Millisecond,
		MaxJitter: 25 * time.Millisecond,
	}
}

// Do calls fn until it succeeds, returns a permanent error, or the retry
// budget runs out. Transient failures come back wrapped with
// CodeUnavailable and the operation name.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
		lastErr  error
	)

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++

		attemptCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			result = v
			return nil
		}

		lastErr = err
		if p.isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return result, nil
	}

	var zero T
	if lastErr != nil && p.isPermanent(lastErr) {
		return zero, lastErr
	}
	if lastErr == nil {
		lastErr = err
	}
	return zero, oops.
		Code(CodeUnavailable).
		With("operation", op).
		With("attempts", attempts).
		Wrap(lastErr)
}

// IsUnavailable reports whether err came out of Do or Call after the retry
// budget was spent.
func IsUnavailable(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == CodeUnavailable
}

func (p Policy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxJitter > 0 {
		b = retry.WithJitter(p.MaxJitter, b)
	}
	return retry.WithMaxRetries(p.Retries, b)
}

func (p Policy) isPermanent(err error) bool {
	for _, target := range p.Permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}
