package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyShouldRetry(t *testing.T) {
	p := DefaultPolicy()
	transient := errors.New("connection reset by peer")

	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"transient first", transient, 1, true},
		{"transient second", transient, 2, true},
		{"transient at ceiling", transient, 3, false},
		{"permanent", statusErr(401), 1, false},
		{"cancelled", context.Canceled, 1, false},
		{"rate limited first", statusErr(429), 1, true},
		{"rate limited exhausted", statusErr(429), 2, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ShouldRetry(tc.err, tc.attempt); got != tc.want {
				t.Fatalf("ShouldRetry(%v, %d) = %v, want %v", tc.err, tc.attempt, got, tc.want)
			}
		})
	}
}

func TestPolicyBackoffRateLimitedIsLonger(t *testing.T) {
	p := DefaultPolicy()
	if got := p.Backoff(errors.New("timeout"), 1); got != time.Second {
		t.Fatalf("transient backoff = %v, want 1s", got)
	}
	if got := p.Backoff(errors.New("timeout"), 2); got != 2*time.Second {
		t.Fatalf("transient backoff attempt 2 = %v, want 2s", got)
	}
	if got := p.Backoff(statusErr(429), 1); got != 5*time.Second {
		t.Fatalf("rate limited backoff = %v, want 5s", got)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() error = %v", err)
	}
	bad := DefaultPolicy()
	bad.MaxAttempts = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error for zero attempts")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Wait() did not return promptly on cancelled context")
	}
}
