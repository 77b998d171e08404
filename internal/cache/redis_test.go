package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, url)
	if err != nil {
		t.Fatalf("DialRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBackend(client, time.Minute, WithKeyPrefix(fmt.Sprintf("tutor:test:%d:", time.Now().UnixNano())))
	t.Cleanup(func() { _ = b.Purge(context.Background()) })
	return b
}

func TestRedisBackendRoundTripAndWriteOnce(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	stored, err := b.SetIfAbsent(ctx, "fp", Answer{Text: "first", CreatedAt: time.Now().UTC()})
	if err != nil || !stored {
		t.Fatalf("SetIfAbsent() = %v, %v; want stored", stored, err)
	}
	stored, err = b.SetIfAbsent(ctx, "fp", Answer{Text: "second"})
	if err != nil || stored {
		t.Fatalf("second SetIfAbsent() = %v, %v; want not stored", stored, err)
	}
	a, ok, err := b.Get(ctx, "fp")
	if err != nil || !ok || a.Text != "first" {
		t.Fatalf("Get() = %q, %v, %v", a.Text, ok, err)
	}
	if _, err := b.Len(ctx); !errors.Is(err, ErrNotCounted) {
		t.Fatalf("Len() error = %v, want ErrNotCounted", err)
	}
	if st := New(b).Stats(ctx); st.Entries != -1 {
		t.Fatalf("Stats().Entries = %d, want -1 for an uncounted backend", st.Entries)
	}
}

func TestRedisBackendStoresSpeech(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	in := Answer{Text: "two plus two", Audio: []byte{1, 2, 3}, Format: "mp3", CreatedAt: time.Now().UTC()}
	if _, err := b.SetIfAbsent(ctx, "speech", in); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	got, ok, err := b.Get(ctx, "speech")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(got.Audio) != string(in.Audio) || got.Format != "mp3" {
		t.Fatalf("Get() = %+v, want audio and format kept", got)
	}
}

func TestRedisBackendDetectsCorruption(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	if err := b.client.Set(ctx, b.prefix+"bad", `{"text":"x","sum":"nope"}`, time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	if _, _, err := b.Get(ctx, "bad"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Get() error = %v, want ErrCorrupt", err)
	}

	svc := New(b)
	if _, ok := svc.Get(ctx, "bad"); ok {
		t.Fatalf("corrupt entry served as a hit")
	}
	if n, _ := b.client.Exists(ctx, b.prefix+"bad").Result(); n != 0 {
		t.Fatalf("Exists() = %d, want corrupt entry deleted", n)
	}
}
