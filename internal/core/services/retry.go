package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// RetryPolicy bounds retries of network-bound collaborator calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxJitter       time.Duration // uniform extra wait added to each backoff
}

// DefaultRetryPolicy: 3 attempts, 1s doubling backoff, up to 1s of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     8 * time.Second,
		MaxJitter:       time.Second,
	}
}

// Permanent wraps err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrPermanent, err)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.Is(err, domain.ErrPermanent) || errors.As(err, &perm)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}

	var b backoff.BackOff = &jitterBackOff{BackOff: exp, max: p.MaxJitter}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "collaborator call failed, retrying",
			"op", op, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return fmt.Errorf("%s failed after %d attempt(s): %w", op, attempt, err)
	}
	return nil
}

// jitterBackOff adds up to max of uniform random delay to each interval.
type jitterBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	next := j.BackOff.NextBackOff()
	if next == backoff.Stop || j.max <= 0 {
		return next
	}
	return next + rand.N(j.max)
}
