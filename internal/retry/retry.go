// Package retry runs calls against remote services with capped exponential
// backoff. Only errors the caller marks transient are retried.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds how often and how slowly a call is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Base is the delay before the first retry; it doubles each time.
	Base time.Duration
	// Max caps a single delay.
	Max time.Duration
}

// Default is three attempts starting at 2s, capped at 10s.
func Default() Policy {
	return Policy{Attempts: 3, Base: 2 * time.Second, Max: 10 * time.Second}
}

// Transient marks err as worth retrying. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return goretry.RetryableError(err)
}

// Do calls fn until it succeeds, returns a non-transient error, the policy
// runs out of attempts or ctx is done. The returned error is the cause, never
// the transient wrapper.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}

	b := goretry.NewExponential(base)
	if p.Max > 0 {
		b = goretry.WithCappedDuration(p.Max, b)
	}
	b = goretry.WithMaxRetries(uint64(attempts-1), b)

	return goretry.Do(ctx, b, fn)
}

// IsNetworkError reports whether err came from the transport rather than the
// remote service: dial failures, resets and timeouts.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	return code == 429 || code >= 500
}
