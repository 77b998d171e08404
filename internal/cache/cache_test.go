package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"What is 2+2?", "2+2"},
		{"  WHAT   is  the   Area of a CIRCLE?? ", "area of circle"},
		{"How do I find 3.5 * 2?", "do i find 3.5 * 2"},
		{"What is it.", "it"},
		{"What is?", "what is"},
		{"x/y - z", "x/y - z"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFingerprintSeparatesIdentity(t *testing.T) {
	base := Fingerprint("u1", "v1", "en", "text", "2+2")
	if base != Fingerprint("u1", "v1", "en", "text", "2+2") {
		t.Fatalf("Fingerprint is not stable")
	}
	others := []string{
		Fingerprint("u2", "v1", "en", "text", "2+2"),
		Fingerprint("u1", "v2", "en", "text", "2+2"),
		Fingerprint("u1", "v1", "es", "text", "2+2"),
		Fingerprint("u1", "v1", "en", "voice", "2+2"),
		Fingerprint("u1", "v1en", "", "text", "2+2"),
	}
	for i, fp := range others {
		if fp == base {
			t.Fatalf("fingerprint %d collides with base", i)
		}
	}
}

func TestGetOrComputeCoalescesConcurrentCallers(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	compute := func(context.Context) (Answer, error) {
		calls.Add(1)
		close(started)
		<-release
		return Answer{Text: "2+2 equals 4."}, nil
	}

	type result struct {
		a   Answer
		src Source
		err error
	}
	results := make(chan result, 2)
	go func() {
		a, src, err := svc.GetOrCompute(context.Background(), "fp", compute)
		results <- result{a, src, err}
	}()
	<-started
	go func() {
		a, src, err := svc.GetOrCompute(context.Background(), "fp", compute)
		results <- result{a, src, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	var sources []Source
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("GetOrCompute() error = %v", r.err)
		}
		if r.a.Text != "2+2 equals 4." {
			t.Fatalf("answer = %q, want shared answer", r.a.Text)
		}
		sources = append(sources, r.src)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("compute calls = %d, want 1", got)
	}
	if !(sources[0] == SourceComputed && sources[1] == SourceShared) && !(sources[0] == SourceShared && sources[1] == SourceComputed) {
		t.Fatalf("sources = %v, want one computed and one shared", sources)
	}
	if st := svc.Stats(context.Background()); st.Coalesced != 1 || st.Entries != 1 {
		t.Fatalf("Stats() = %+v, want one coalesced caller and one entry", st)
	}
}

func TestGetOrComputeHitIsByteIdentical(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	want := "Área = πr²\n"
	if _, _, err := svc.GetOrCompute(context.Background(), "fp", func(context.Context) (Answer, error) {
		return Answer{Text: want}, nil
	}); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}

	a, src, err := svc.GetOrCompute(context.Background(), "fp", func(context.Context) (Answer, error) {
		t.Fatalf("compute called on a cache hit")
		return Answer{}, nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if src != SourceCache || a.Text != want {
		t.Fatalf("GetOrCompute() = %q (%v), want %q from cache", a.Text, src, want)
	}
}

func TestGetOrComputeDoesNotStoreFailures(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	boom := errors.New("boom")
	_, src, err := svc.GetOrCompute(context.Background(), "fp", func(context.Context) (Answer, error) {
		return Answer{Text: "partial"}, boom
	})
	if !errors.Is(err, boom) || src != SourceComputed {
		t.Fatalf("GetOrCompute() = (%v, %v), want computed boom", src, err)
	}
	if _, ok := svc.Get(context.Background(), "fp"); ok {
		t.Fatalf("failed computation was cached")
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	ctx := context.Background()
	svc.Put(ctx, "fp", Answer{Text: "first"})
	svc.Put(ctx, "fp", Answer{Text: "second"})
	svc.Put(ctx, "empty", Answer{})

	a, ok := svc.Get(ctx, "fp")
	if !ok || a.Text != "first" {
		t.Fatalf("Get() = %q, %v; want first write to win", a.Text, ok)
	}
	if _, ok := svc.Get(ctx, "empty"); ok {
		t.Fatalf("empty answer was cached")
	}
}

func TestMemoryBackendEvictsLeastRecentlyUsed(t *testing.T) {
	svc := New(NewMemoryBackend(2, time.Minute))
	ctx := context.Background()
	svc.Put(ctx, "a", Answer{Text: "A"})
	svc.Put(ctx, "b", Answer{Text: "B"})
	svc.Get(ctx, "a")
	svc.Put(ctx, "c", Answer{Text: "C"})

	if _, ok := svc.Get(ctx, "b"); ok {
		t.Fatalf("least recently used entry survived")
	}
	if _, ok := svc.Get(ctx, "a"); !ok {
		t.Fatalf("recently used entry evicted")
	}
	st := svc.Stats(ctx)
	if st.Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", st.Evictions)
	}
	if st.Hits != 2 || st.Misses != 1 || st.HitRate < 0.66 || st.HitRate > 0.67 {
		t.Fatalf("Stats() = %+v, want 2 hits 1 miss", st)
	}
}

func TestMemoryBackendExpiresEntries(t *testing.T) {
	svc := New(NewMemoryBackend(10, 30*time.Millisecond))
	ctx := context.Background()
	svc.Put(ctx, "fp", Answer{Text: "soon gone"})
	time.Sleep(80 * time.Millisecond)
	if _, ok := svc.Get(ctx, "fp"); ok {
		t.Fatalf("expired entry returned")
	}
}

func TestClearKeepsCounters(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	ctx := context.Background()
	svc.Put(ctx, "fp", Answer{Text: "x"})
	svc.Get(ctx, "fp")
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	st := svc.Stats(ctx)
	if st.Entries != 0 || st.Hits != 1 || st.Evictions != 0 {
		t.Fatalf("Stats() = %+v, want empty cache with counters kept", st)
	}
}

type corruptBackend struct {
	*MemoryBackend
	mu      sync.Mutex
	deleted []string
}

func (b *corruptBackend) Get(context.Context, string) (Answer, bool, error) {
	return Answer{}, false, ErrCorrupt
}

func (b *corruptBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.deleted = append(b.deleted, key)
	b.mu.Unlock()
	return b.MemoryBackend.Delete(ctx, key)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	backend := &corruptBackend{MemoryBackend: NewMemoryBackend(10, time.Minute)}
	svc := New(backend)

	a, src, err := svc.GetOrCompute(context.Background(), "fp", func(context.Context) (Answer, error) {
		return Answer{Text: "fresh"}, nil
	})
	if err != nil || a.Text != "fresh" || src != SourceComputed {
		t.Fatalf("GetOrCompute() = (%q, %v, %v), want fresh computation", a.Text, src, err)
	}
	st := svc.Stats(context.Background())
	if st.Corruptions == 0 {
		t.Fatalf("Corruptions = 0, want counted")
	}
	if len(backend.deleted) == 0 || backend.deleted[0] != "fp" {
		t.Fatalf("deleted = %v, want corrupt key removed", backend.deleted)
	}
}

func TestGetOrComputeWaiterHonoursContext(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _, _ = svc.GetOrCompute(context.Background(), "fp", func(context.Context) (Answer, error) {
			close(started)
			<-release
			return Answer{Text: "late"}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := svc.GetOrCompute(ctx, "fp", func(context.Context) (Answer, error) {
		t.Fatalf("second compute ran while first was in flight")
		return Answer{}, nil
	})
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetOrCompute() error = %v, want deadline exceeded", err)
	}
}

func TestKeyspacesAreSeparate(t *testing.T) {
	ctx := context.Background()
	svc := New(NewMemoryBackend(10, time.Minute),
		WithKeyspace(KeyspaceVision, NewMemoryBackend(10, time.Minute)),
		WithKeyspace(KeyspaceSpeech, NewMemoryBackend(10, time.Minute)),
	)

	var calls atomic.Int32
	describe := func(context.Context) (Answer, error) {
		calls.Add(1)
		return Answer{Text: "a right triangle"}, nil
	}
	key := ImageFingerprint("v1", "en", []byte{0x89, 'P', 'N', 'G'})
	for i := 0; i < 2; i++ {
		if _, _, err := svc.GetOrComputeIn(ctx, KeyspaceVision, key, describe); err != nil {
			t.Fatalf("GetOrComputeIn(vision) error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("describe calls = %d, want 1", calls.Load())
	}
	if _, ok := svc.Get(ctx, key); ok {
		t.Fatalf("vision entry visible in the answer keyspace")
	}

	speech := Answer{Text: "four", Audio: []byte{1, 2}, Format: "mp3"}
	got, src, err := svc.GetOrComputeIn(ctx, KeyspaceSpeech, SpeechFingerprint("en", "four"), func(context.Context) (Answer, error) {
		return speech, nil
	})
	if err != nil || src != SourceComputed || string(got.Audio) != "\x01\x02" {
		t.Fatalf("GetOrComputeIn(speech) = (%+v, %v, %v)", got, src, err)
	}
	got, src, _ = svc.GetOrComputeIn(ctx, KeyspaceSpeech, SpeechFingerprint("en", "four"), func(context.Context) (Answer, error) {
		return Answer{Text: "recomputed", Audio: []byte{9}}, nil
	})
	if src != SourceCache || got.Format != "mp3" || got.Text != "four" {
		t.Fatalf("second lookup = (%+v, %v), want cached speech", got, src)
	}

	st := svc.Stats(ctx)
	if st.Keyspace != "answer" || len(st.Keyspaces) != 2 {
		t.Fatalf("Stats() = %+v, want answer stats with two keyspaces", st)
	}
	if st.Keyspaces[0].Keyspace != "vision" || st.Keyspaces[0].Entries != 1 || st.Keyspaces[0].Hits != 1 {
		t.Fatalf("vision stats = %+v", st.Keyspaces[0])
	}

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if st := svc.Stats(ctx); st.Keyspaces[0].Entries != 0 || st.Keyspaces[1].Entries != 0 {
		t.Fatalf("Stats() after Clear = %+v, want every keyspace empty", st)
	}
}

func TestUnconfiguredKeyspaceAlwaysComputes(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Minute))
	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		_, src, err := svc.GetOrComputeIn(context.Background(), KeyspaceSpeech, "k", func(context.Context) (Answer, error) {
			calls.Add(1)
			return Answer{Text: "x", Audio: []byte{1}}, nil
		})
		if err != nil || src != SourceComputed {
			t.Fatalf("GetOrComputeIn() = %v, %v", src, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestFingerprintsDoNotCollideAcrossKinds(t *testing.T) {
	if ImageFingerprint("v1", "en", []byte("x")) == ImageFingerprint("v2", "en", []byte("x")) {
		t.Fatalf("image fingerprint ignores video")
	}
	if SpeechFingerprint("en", "four") == SpeechFingerprint("es", "four") {
		t.Fatalf("speech fingerprint ignores language")
	}
	if SpeechFingerprint("en", "x") == ImageFingerprint("", "en", []byte("x")) {
		t.Fatalf("speech and image fingerprints collide")
	}
}
