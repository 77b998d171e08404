package reliability

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the operating mode of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before probing. Default 30s.
	ResetTimeout time.Duration
	// HalfOpenMax trial calls must succeed to close again. Default 1.
	HalfOpenMax int
}

// Breaker is a three-state circuit breaker guarding one provider capability.
// Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	trials          int
	trialSuccesses  int
	lastErr         string
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          time.Now,
	}
}

// Allow reserves a call slot. Every nil return must be paired with Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trials = 0
		b.trialSuccesses = 0
		slog.Info("circuit breaker half-open", "provider", b.name)
		fallthrough
	case BreakerHalfOpen:
		if b.trials >= b.halfOpenMax {
			return ErrCircuitOpen
		}
		b.trials++
	}
	return nil
}

// Record reports the outcome of an allowed call. Caller cancellation and
// permanent request errors say nothing about provider health and should be
// recorded as success by the caller.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case BreakerHalfOpen:
			b.trialSuccesses++
			if b.trialSuccesses >= b.halfOpenMax {
				b.state = BreakerClosed
				b.consecutiveFail = 0
				b.lastErr = ""
				slog.Info("circuit breaker closed", "provider", b.name)
			}
		default:
			b.consecutiveFail = 0
		}
		return
	}

	b.lastErr = err.Error()
	switch b.state {
	case BreakerHalfOpen:
		b.trip()
		slog.Warn("circuit breaker re-opened", "provider", b.name, "error", err)
	case BreakerClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.maxFailures {
			b.trip()
			slog.Warn("circuit breaker opened", "provider", b.name, "consecutive_failures", b.consecutiveFail)
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
}

// BreakerStatus is a point-in-time view for health reporting.
type BreakerStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Healthy             bool   `json:"healthy"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	if state == BreakerOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		state = BreakerHalfOpen
	}
	return BreakerStatus{
		Name:                b.name,
		State:               state.String(),
		Healthy:             state == BreakerClosed,
		ConsecutiveFailures: b.consecutiveFail,
		LastError:           b.lastErr,
	}
}
