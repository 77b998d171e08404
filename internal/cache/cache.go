// Package cache stores finished answers by request fingerprint and coalesces
// concurrent computations of the same fingerprint.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrCorrupt is returned by a Backend for an entry that cannot be trusted.
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrNotCounted is returned by Len when a backend does not count entries.
	ErrNotCounted = errors.New("cache backend does not count entries")
)

// Answer is a cached result. Answers and image descriptions use Text;
// synthesized speech also carries Audio and Format.
type Answer struct {
	Text      string    `json:"text"`
	Audio     []byte    `json:"audio,omitempty"`
	Format    string    `json:"format,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a Answer) empty() bool { return a.Text == "" && len(a.Audio) == 0 }

// Keyspace separates the kinds of results a Service caches. Each keyspace
// has its own backend, so TTL and capacity are set per kind.
type Keyspace string

const (
	KeyspaceAnswer Keyspace = "answer"
	KeyspaceVision Keyspace = "vision"
	KeyspaceSpeech Keyspace = "speech"
)

// Backend is the storage behind a Service. Implementations apply their own
// TTL and capacity policy.
type Backend interface {
	Get(ctx context.Context, key string) (Answer, bool, error)
	// SetIfAbsent stores a only when no live entry exists for key.
	SetIfAbsent(ctx context.Context, key string, a Answer) (bool, error)
	Delete(ctx context.Context, key string) error
	Purge(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Evictions() uint64
	Name() string
}

// Source tells a GetOrCompute caller where its answer came from.
type Source int

const (
	// SourceCache means the answer was already stored.
	SourceCache Source = iota
	// SourceComputed means this caller's compute function produced it.
	SourceComputed
	// SourceShared means another caller's in-flight computation produced it.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceComputed:
		return "computed"
	case SourceShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Stats describes one keyspace. Entries is -1 when the backend does not
// count its keys.
type Stats struct {
	Keyspace    string  `json:"keyspace"`
	Backend     string  `json:"backend"`
	Entries     int     `json:"entries"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Coalesced   uint64  `json:"coalesced"`
	Evictions   uint64  `json:"evictions"`
	Corruptions uint64  `json:"corruptions"`
	HitRate     float64 `json:"hit_rate"`
	// Keyspaces reports the other keyspaces; set on the answer keyspace only.
	Keyspaces []Stats `json:"keyspaces,omitempty"`
}

// Service caches answers, plus image descriptions and speech when those
// keyspaces are configured.
type Service struct {
	answers *space
	extra   map[Keyspace]*space
}

type space struct {
	name    Keyspace
	backend Backend
	group   singleflight.Group

	hits        atomic.Uint64
	misses      atomic.Uint64
	coalesced   atomic.Uint64
	corruptions atomic.Uint64
}

type Option func(*Service)

// WithKeyspace stores the results of ks in backend.
func WithKeyspace(ks Keyspace, backend Backend) Option {
	return func(s *Service) {
		if ks == KeyspaceAnswer || backend == nil {
			return
		}
		s.extra[ks] = &space{name: ks, backend: backend}
	}
}

func New(backend Backend, opts ...Option) *Service {
	s := &Service{
		answers: &space{name: KeyspaceAnswer, backend: backend},
		extra:   make(map[Keyspace]*space),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) space(ks Keyspace) *space {
	if ks == KeyspaceAnswer || ks == "" {
		return s.answers
	}
	return s.extra[ks]
}

// Get returns the stored answer for key. Corrupt entries are deleted and
// reported as a miss, as are backend failures.
func (s *Service) Get(ctx context.Context, key string) (Answer, bool) {
	return s.answers.get(ctx, key)
}

// Put stores a under key unless an entry already exists. Empty answers are
// never stored.
func (s *Service) Put(ctx context.Context, key string, a Answer) {
	s.answers.put(ctx, key, a)
}

// GetOrCompute returns the stored answer for key, or runs compute once for
// all concurrent callers of the same key and stores its result. A caller
// whose ctx ends while waiting on another caller's computation returns
// ctx.Err() without affecting that computation. Failed computations are not
// stored.
func (s *Service) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (Answer, error)) (Answer, Source, error) {
	return s.answers.getOrCompute(ctx, key, compute)
}

// GetOrComputeIn is GetOrCompute within keyspace ks. A keyspace without a
// backend runs compute every time.
func (s *Service) GetOrComputeIn(ctx context.Context, ks Keyspace, key string, compute func(context.Context) (Answer, error)) (Answer, Source, error) {
	sp := s.space(ks)
	if sp == nil {
		a, err := compute(ctx)
		return a, SourceComputed, err
	}
	return sp.getOrCompute(ctx, key, compute)
}

// Clear removes every entry of every keyspace. Counters are kept.
func (s *Service) Clear(ctx context.Context) error {
	var errs []error
	if err := s.answers.backend.Purge(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, sp := range s.extra {
		if err := sp.backend.Purge(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sp.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Stats(ctx context.Context) Stats {
	st := s.answers.stats(ctx)
	for _, ks := range []Keyspace{KeyspaceVision, KeyspaceSpeech} {
		if sp, ok := s.extra[ks]; ok {
			st.Keyspaces = append(st.Keyspaces, sp.stats(ctx))
		}
	}
	return st
}

func (sp *space) get(ctx context.Context, key string) (Answer, bool) {
	a, ok := sp.lookup(ctx, key)
	if ok {
		sp.hits.Add(1)
	} else {
		sp.misses.Add(1)
	}
	return a, ok
}

func (sp *space) lookup(ctx context.Context, key string) (Answer, bool) {
	a, ok, err := sp.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrCorrupt):
		sp.corruptions.Add(1)
		slog.Warn("cache entry corrupt, treating as miss", "keyspace", string(sp.name), "backend", sp.backend.Name(), "key", key)
		if derr := sp.backend.Delete(ctx, key); derr != nil {
			slog.Warn("cache corrupt entry delete failed", "backend", sp.backend.Name(), "error", derr)
		}
		return Answer{}, false
	case err != nil:
		slog.Warn("cache lookup failed, treating as miss", "keyspace", string(sp.name), "backend", sp.backend.Name(), "error", err)
		return Answer{}, false
	}
	return a, ok
}

func (sp *space) put(ctx context.Context, key string, a Answer) {
	if a.empty() {
		return
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := sp.backend.SetIfAbsent(ctx, key, a); err != nil {
		slog.Warn("cache write failed", "keyspace", string(sp.name), "backend", sp.backend.Name(), "error", err)
	}
}

func (sp *space) getOrCompute(ctx context.Context, key string, compute func(context.Context) (Answer, error)) (Answer, Source, error) {
	if a, ok := sp.get(ctx, key); ok {
		return a, SourceCache, nil
	}

	ran := false
	ch := sp.group.DoChan(key, func() (any, error) {
		// A previous flight may have finished between our miss and now.
		if a, ok := sp.lookup(ctx, key); ok {
			return a, nil
		}
		ran = true
		a, err := compute(ctx)
		if err != nil {
			return Answer{}, err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		sp.put(context.WithoutCancel(ctx), key, a)
		return a, nil
	})

	select {
	case <-ctx.Done():
		return Answer{}, SourceShared, ctx.Err()
	case res := <-ch:
		src := SourceShared
		if ran {
			src = SourceComputed
		} else {
			sp.coalesced.Add(1)
		}
		if res.Err != nil {
			return Answer{}, src, res.Err
		}
		return res.Val.(Answer), src, nil
	}
}

func (sp *space) stats(ctx context.Context) Stats {
	st := Stats{
		Keyspace:    string(sp.name),
		Backend:     sp.backend.Name(),
		Hits:        sp.hits.Load(),
		Misses:      sp.misses.Load(),
		Coalesced:   sp.coalesced.Load(),
		Evictions:   sp.backend.Evictions(),
		Corruptions: sp.corruptions.Load(),
	}
	if n, err := sp.backend.Len(ctx); err == nil {
		st.Entries = n
	} else {
		st.Entries = -1
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}
