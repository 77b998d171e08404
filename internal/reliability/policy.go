package reliability

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds retries of provider calls. Attempts are counted from 1: the
// first call is attempt 1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Rate-limited calls back off longer and get a smaller budget.
	RateLimitAttempts  int
	RateLimitBaseDelay time.Duration
	RateLimitMaxDelay  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        3,
		BaseDelay:          time.Second,
		MaxDelay:           10 * time.Second,
		RateLimitAttempts:  2,
		RateLimitBaseDelay: 5 * time.Second,
		RateLimitMaxDelay:  60 * time.Second,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if p.RateLimitAttempts < 1 {
		return fmt.Errorf("rate limit attempts must be at least 1")
	}
	if p.BaseDelay < 0 || p.RateLimitBaseDelay < 0 {
		return fmt.Errorf("base delays must be non-negative")
	}
	if p.MaxDelay < p.BaseDelay || p.RateLimitMaxDelay < p.RateLimitBaseDelay {
		return fmt.Errorf("max delay must be >= base delay")
	}
	return nil
}

// ShouldRetry reports whether another attempt is allowed after attempt
// attempts have failed with err.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case ClassPermanent:
		return false
	case ClassRateLimited:
		return attempt < min(p.RateLimitAttempts, p.MaxAttempts)
	default:
		return attempt < p.MaxAttempts
	}
}

// Backoff returns the wait before the attempt following attempt.
func (p Policy) Backoff(err error, attempt int) time.Duration {
	if Classify(err) == ClassRateLimited {
		return ExponentialBackoff(attempt-1, p.RateLimitBaseDelay, p.RateLimitMaxDelay)
	}
	return ExponentialBackoff(attempt-1, p.BaseDelay, p.MaxDelay)
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
