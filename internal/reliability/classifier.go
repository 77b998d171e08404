package reliability

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Class is the recovery category of a failed provider call.
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Markers that providers may wrap to force a classification.
var (
	ErrTransient   = errors.New("transient provider failure")
	ErrPermanent   = errors.New("permanent provider failure")
	ErrRateLimited = errors.New("provider rate limited")
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

var (
	rateLimitKeywords = []string{"rate limit", "ratelimit", "too many requests", "quota"}
	permanentKeywords = []string{"unauthorized", "api key", "api_key", "authentication", "permission", "forbidden", "invalid_request_error", "not configured"}
	transientKeywords = []string{"timeout", "timed out", "connection", "network", "temporar", "unavailable", "reset by peer", "eof"}
)

// Classify maps an error to its recovery class. Explicit markers and HTTP
// statuses take precedence over message keywords; anything unrecognised is
// treated as transient so it still gets the bounded retry budget.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrPermanent), errors.Is(err, context.Canceled):
		return ClassPermanent
	case errors.Is(err, ErrTransient), errors.Is(err, ErrCircuitOpen), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatus(); code > 0 {
			return classifyStatus(code)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitKeywords):
		return ClassRateLimited
	case containsAny(msg, permanentKeywords):
		return ClassPermanent
	case containsAny(msg, transientKeywords):
		return ClassTransient
	default:
		return ClassTransient
	}
}

func classifyStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimited
	case IsRetryableHTTPStatus(code):
		return ClassTransient
	case code >= 500:
		return ClassTransient
	case code >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
