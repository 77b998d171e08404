package recording

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Set moves time forward without firing timers.
func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Advance moves time forward and fires every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var due []*fakeTimer
		var rest []*fakeTimer
		for _, t := range c.timers {
			switch {
			case t.stopped:
			case !t.at.After(c.now):
				due = append(due, t)
			default:
				rest = append(rest, t)
			}
		}
		c.timers = rest
		c.mu.Unlock()
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		for _, t := range due {
			t.f()
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	results []Result
	states  []string
}

func (r *recorder) onResult(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) onState(s State, t Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.String()+":"+string(t))
}

func (r *recorder) only(t *testing.T) Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) != 1 {
		t.Fatalf("results = %d, want exactly 1", len(r.results))
	}
	return r.results[0]
}

func newTestMachine(clock *fakeClock, rec *recorder) *Machine {
	return New(Config{
		SilenceTimeout: 2 * time.Second,
		MaxDuration:    20 * time.Second,
		Clock:          clock,
		OnState:        rec.onState,
	}, rec.onResult)
}

func frame(n int) []byte {
	return make([]byte, 2*n)
}

func TestSilenceEndsCapture(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	clock.Advance(2100 * time.Millisecond)

	res := rec.only(t)
	if res.Trigger != TriggerSilence || res.Err != nil || res.Payload == nil {
		t.Fatalf("result = %+v, want silence payload", res)
	}
	if res.Payload.Voiced {
		t.Fatalf("payload marked voiced without voice activity")
	}
	if m.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", m.State())
	}
	clock.Advance(30 * time.Second)
	rec.only(t)
}

func TestVoiceActivityExtendsSilenceWindow(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)
	_ = m.Start()

	for i := 0; i < 5; i++ {
		clock.Advance(1500 * time.Millisecond)
		if err := m.Write(frame(1600), true); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if m.State() != StateCapturing {
		t.Fatalf("capture ended while voice kept arriving")
	}
	clock.Advance(2 * time.Second)

	res := rec.only(t)
	if res.Trigger != TriggerSilence || !res.Payload.Voiced {
		t.Fatalf("result = %+v, want voiced silence stop", res)
	}
	if want := 500 * time.Millisecond; res.Payload.Duration != want {
		t.Fatalf("Duration = %v, want %v", res.Payload.Duration, want)
	}
}

func TestMaxDurationEndsContinuousSpeech(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)
	_ = m.Start()

	for i := 0; i < 40; i++ {
		clock.Advance(time.Second)
		_ = m.Write(frame(160), true)
	}
	res := rec.only(t)
	if res.Trigger != TriggerMaxDuration {
		t.Fatalf("Trigger = %v, want max_duration", res.Trigger)
	}
}

func TestManualStopWinsAndLaterTriggersAreInert(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)
	_ = m.Start()
	_ = m.Write(frame(160), true)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("second Stop() error = %v, want ErrNotCapturing", err)
	}
	clock.Advance(25 * time.Second)

	res := rec.only(t)
	if res.Trigger != TriggerManual {
		t.Fatalf("Trigger = %v, want manual", res.Trigger)
	}
}

func TestSimultaneousTriggersTieBreak(t *testing.T) {
	cases := []struct {
		name    string
		silence time.Duration
		max     time.Duration
		run     func(*Machine, *fakeClock)
		want    Trigger
	}{
		{
			name:    "max duration beats silence",
			silence: 5 * time.Second,
			max:     5 * time.Second,
			run:     func(_ *Machine, c *fakeClock) { c.Advance(5 * time.Second) },
			want:    TriggerMaxDuration,
		},
		{
			name:    "manual beats due timers",
			silence: 2 * time.Second,
			max:     20 * time.Second,
			run: func(m *Machine, c *fakeClock) {
				c.Set(25 * time.Second)
				_ = m.Stop()
				c.Advance(0)
			},
			want: TriggerManual,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			rec := &recorder{}
			m := New(Config{SilenceTimeout: tc.silence, MaxDuration: tc.max, Clock: clock}, rec.onResult)
			_ = m.Start()
			tc.run(m, clock)
			if got := rec.only(t).Trigger; got != tc.want {
				t.Fatalf("Trigger = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCancelEmitsNoPayload(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)
	_ = m.Start()
	_ = m.Write(frame(160), true)
	m.Cancel()
	clock.Advance(time.Minute)

	res := rec.only(t)
	if !errors.Is(res.Err, ErrCancelled) || res.Payload != nil {
		t.Fatalf("result = %+v, want cancellation", res)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() after cancel error = %v", err)
	}
}

func TestFinalizeErrorReturnsToIdle(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)
	_ = m.Start()
	_ = m.Write([]byte{1, 2, 3}, true)
	_ = m.Stop()

	res := rec.only(t)
	if !errors.Is(res.Err, ErrOddPCM) || res.Payload != nil {
		t.Fatalf("result = %+v, want finalize error", res)
	}
	if m.State() != StateIdle {
		t.Fatalf("State() = %v, want idle", m.State())
	}
}

func TestStartWhileCapturingFails(t *testing.T) {
	m := newTestMachine(newFakeClock(), &recorder{})
	_ = m.Start()
	if err := m.Start(); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("Start() error = %v, want ErrNotIdle", err)
	}
	if err := m.Write(frame(1), false); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func TestWriteOutsideCaptureFails(t *testing.T) {
	m := newTestMachine(newFakeClock(), &recorder{})
	if err := m.Write(frame(1), true); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("Write() error = %v, want ErrNotCapturing", err)
	}
}

func TestStateTransitionsAreObserved(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestMachine(clock, rec)
	_ = m.Start()
	clock.Advance(2 * time.Second)

	want := []string{"capturing:", "finalizing:silence", "idle:silence"}
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v, want %v", rec.states, want)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", rec.states, want)
		}
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad container markers: %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("payload altered")
	}
}

func TestIsVoiced(t *testing.T) {
	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(12000)))
	}
	if !IsVoiced(loud, DefaultVoiceThreshold) {
		t.Fatalf("loud frame not voiced")
	}
	if IsVoiced(make([]byte, 320), DefaultVoiceThreshold) {
		t.Fatalf("silent frame voiced")
	}
	if IsVoiced(nil, DefaultVoiceThreshold) {
		t.Fatalf("empty frame voiced")
	}
}
