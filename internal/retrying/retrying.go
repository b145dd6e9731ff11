// Package retrying centralizes the exponential-backoff retry loop the
// teacher duplicated at each Kafka/Redis call site (internal/orchestrator/kafka.go,
// internal/orchestrator/dedupe.go) into one combinator used by every
// component that talks to an external dependency.
package retrying

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Policy configures WithRetry. Zero values fall back to sane defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// WithRetry invokes fn until it succeeds, fn's error fails IsTransient, the
// context is canceled, or MaxAttempts is exhausted. Backoff doubles each
// attempt starting from BaseDelay, capped at MaxDelay; each wait is jittered
// uniformly within [delay/2, delay].
func WithRetry(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	var lastErr error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}
		wait := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}

// IsTransient reports whether err represents a condition worth retrying:
// network timeouts, connection resets, and Postgres errors flagged
// recoverable by the driver. Context cancellation and validation errors are
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "53300", "57P03":
			return true
		}
		return false
	}
	return errors.Is(err, ErrTransient)
}

// ErrTransient is a sentinel callers can wrap to force WithRetry to treat an
// otherwise-unrecognized error as retryable.
var ErrTransient = errors.New("retrying: transient error")
