package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultSampleRate     = 16000
	DefaultSilenceTimeout = 2 * time.Second
	DefaultMaxDuration    = 20 * time.Second
	DefaultVoiceThreshold = 0.02
)

var (
	ErrNotIdle      = errors.New("recording already in progress")
	ErrNotCapturing = errors.New("no recording in progress")
	ErrCancelled    = errors.New("recording cancelled")
)

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Trigger is what ended a capture.
type Trigger string

const (
	TriggerManual      Trigger = "manual"
	TriggerMaxDuration Trigger = "max_duration"
	TriggerSilence     Trigger = "silence"
	TriggerCancel      Trigger = "cancel"
)

// Payload is a finalized capture.
type Payload struct {
	WAV        []byte
	SampleRate int
	Duration   time.Duration
	StartedAt  time.Time
	Trigger    Trigger
	Voiced     bool
}

// Result is delivered exactly once per capture: either a payload or an
// error explaining why no payload was produced.
type Result struct {
	Payload *Payload
	Trigger Trigger
	Err     error
}

type Config struct {
	SilenceTimeout time.Duration
	MaxDuration    time.Duration
	SampleRate     int
	Clock          Clock
	// OnState observes transitions. It runs outside the machine lock.
	OnState func(State, Trigger)
}

func (c Config) withDefaults() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

// Machine runs one capture at a time: Idle -> Capturing -> Finalizing -> Idle.
// Manual stop, the silence timer and the max-duration timer race to end a
// capture; the first evaluation that finds any of them due wins and every
// later trigger for that capture is a no-op.
type Machine struct {
	cfg      Config
	onResult func(Result)

	mu            sync.Mutex
	state         State
	gen           uint64
	startedAt     time.Time
	lastVoiceAt   time.Time
	voiced        bool
	buf           []byte
	maxBytes      int
	silenceTimer  Timer
	durationTimer Timer
}

func New(cfg Config, onResult func(Result)) *Machine {
	cfg = cfg.withDefaults()
	return &Machine{
		cfg:      cfg,
		onResult: onResult,
		maxBytes: int(cfg.MaxDuration/time.Second+1) * cfg.SampleRate * 2,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins a capture and arms both timers.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	now := m.cfg.Clock.Now()
	m.gen++
	gen := m.gen
	m.state = StateCapturing
	m.startedAt = now
	m.lastVoiceAt = now
	m.voiced = false
	m.buf = m.buf[:0]
	m.durationTimer = m.cfg.Clock.AfterFunc(m.cfg.MaxDuration, func() { m.evaluate(gen, false) })
	m.silenceTimer = m.cfg.Clock.AfterFunc(m.cfg.SilenceTimeout, func() { m.evaluate(gen, false) })
	m.mu.Unlock()

	m.notify(StateCapturing, "")
	return nil
}

// Write appends PCM16LE samples. A voiced frame refreshes the silence window.
func (m *Machine) Write(pcm []byte, voiced bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCapturing {
		return ErrNotCapturing
	}
	room := m.maxBytes - len(m.buf)
	if room > 0 {
		if len(pcm) > room {
			pcm = pcm[:room-room%2]
		}
		m.buf = append(m.buf, pcm...)
	}
	if voiced {
		m.voiced = true
		m.lastVoiceAt = m.cfg.Clock.Now()
	}
	return nil
}

// Stop is the manual trigger.
func (m *Machine) Stop() error {
	m.mu.Lock()
	if m.state != StateCapturing {
		m.mu.Unlock()
		return ErrNotCapturing
	}
	gen := m.gen
	m.mu.Unlock()
	m.evaluate(gen, true)
	return nil
}

// Cancel abandons the capture without producing a payload.
func (m *Machine) Cancel() {
	m.mu.Lock()
	if m.state != StateCapturing {
		m.mu.Unlock()
		return
	}
	m.enterFinalizingLocked()
	m.buf = m.buf[:0]
	m.state = StateIdle
	m.mu.Unlock()

	m.notify(StateIdle, TriggerCancel)
	m.emit(Result{Trigger: TriggerCancel, Err: ErrCancelled})
}

// evaluate decides, under the lock, whether the capture of generation gen
// ends now and why. When several triggers are due at once the priority is
// manual, then max duration, then silence.
func (m *Machine) evaluate(gen uint64, manual bool) {
	m.mu.Lock()
	if m.state != StateCapturing || m.gen != gen {
		m.mu.Unlock()
		return
	}
	now := m.cfg.Clock.Now()
	var trigger Trigger
	switch {
	case manual:
		trigger = TriggerManual
	case now.Sub(m.startedAt) >= m.cfg.MaxDuration:
		trigger = TriggerMaxDuration
	case now.Sub(m.lastVoiceAt) >= m.cfg.SilenceTimeout:
		trigger = TriggerSilence
	default:
		// Voice arrived since the silence timer was armed.
		wait := m.cfg.SilenceTimeout - now.Sub(m.lastVoiceAt)
		m.silenceTimer = m.cfg.Clock.AfterFunc(wait, func() { m.evaluate(gen, false) })
		m.mu.Unlock()
		return
	}

	m.enterFinalizingLocked()
	pcm := append([]byte(nil), m.buf...)
	m.buf = m.buf[:0]
	startedAt, voiced := m.startedAt, m.voiced
	m.mu.Unlock()

	m.notify(StateFinalizing, trigger)
	res := m.finalize(pcm, startedAt, voiced, trigger)

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.notify(StateIdle, trigger)
	m.emit(res)
}

// enterFinalizingLocked disarms both timers. Caller holds m.mu.
func (m *Machine) enterFinalizingLocked() {
	m.state = StateFinalizing
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}
	if m.durationTimer != nil {
		m.durationTimer.Stop()
		m.durationTimer = nil
	}
}

func (m *Machine) finalize(pcm []byte, startedAt time.Time, voiced bool, trigger Trigger) Result {
	wav, err := EncodeWAV(pcm, m.cfg.SampleRate)
	if err != nil {
		return Result{Trigger: trigger, Err: fmt.Errorf("finalize recording: %w", err)}
	}
	return Result{
		Trigger: trigger,
		Payload: &Payload{
			WAV:        wav,
			SampleRate: m.cfg.SampleRate,
			Duration:   PCMDuration(len(pcm), m.cfg.SampleRate),
			StartedAt:  startedAt,
			Trigger:    trigger,
			Voiced:     voiced,
		},
	}
}

func (m *Machine) notify(s State, t Trigger) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(s, t)
	}
}

func (m *Machine) emit(r Result) {
	if m.onResult != nil {
		m.onResult(r)
	}
}
