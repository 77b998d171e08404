package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("upstream status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"wrapped deadline", fmt.Errorf("answer: %w", context.DeadlineExceeded), ClassTransient},
		{"cancelled", context.Canceled, ClassPermanent},
		{"circuit open", ErrCircuitOpen, ClassTransient},
		{"status 429", statusErr(429), ClassRateLimited},
		{"status 401", fmt.Errorf("call: %w", statusErr(401)), ClassPermanent},
		{"status 404", statusErr(404), ClassPermanent},
		{"status 502", statusErr(502), ClassTransient},
		{"marker permanent", fmt.Errorf("vision: %w", ErrPermanent), ClassPermanent},
		{"marker rate", fmt.Errorf("x: %w", ErrRateLimited), ClassRateLimited},
		{"keyword quota", errors.New("You exceeded your current quota"), ClassRateLimited},
		{"keyword api key", errors.New("Incorrect API key provided"), ClassPermanent},
		{"keyword connection", errors.New("connection refused"), ClassTransient},
		{"keyword invalid api key", errors.New("invalid api key"), ClassPermanent},
		{"keyword invalid request", errors.New("invalid_request_error: model not found"), ClassPermanent},
		{"decode glitch", errors.New("invalid character 'x' looking for beginning of value"), ClassTransient},
		{"unknown", errors.New("something odd"), ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
