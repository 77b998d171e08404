package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrBusy       = errors.New("session busy")
	ErrInvalidKey = errors.New("session key requires user_id and video_id")
	ErrReleased   = errors.New("session token already released")
)

// Eviction reasons passed to the evict hook.
const (
	EvictExpired      = "expired"
	EvictVideoSwitch  = "video_switched"
	EvictEndRequested = "ended"
)

const (
	defaultMaxHistory    = 50
	maxImageContexts     = 5
	defaultInactivityTTL = time.Hour
)

// Seeder loads prior turns for a session that is being created.
type Seeder func(ctx context.Context, key Key, limit int) ([]Turn, error)

// Store holds live sessions. The map lock only guards membership; each
// session has its own lock and an atomic busy flag, so requests on different
// sessions never contend.
type Store struct {
	mu                sync.RWMutex
	entries           map[Key]*entry
	activeVideo       map[string]string
	inactivityTimeout time.Duration
	maxHistory        int
	onEvict           func(Session, string)
	seeder            Seeder
	seedLimit         int
}

type entry struct {
	busy atomic.Bool

	mu    sync.Mutex
	state Session
}

func NewStore(inactivityTimeout time.Duration) *Store {
	if inactivityTimeout <= 0 {
		inactivityTimeout = defaultInactivityTTL
	}
	return &Store{
		entries:           make(map[Key]*entry),
		activeVideo:       make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		maxHistory:        defaultMaxHistory,
	}
}

func (s *Store) SetEvictHook(hook func(Session, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = hook
}

// SetSeeder installs a loader for the history of newly created sessions.
func (s *Store) SetSeeder(seeder Seeder, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeder = seeder
	s.seedLimit = limit
}

// Open returns the session for key, creating it with d when absent.
func (s *Store) Open(ctx context.Context, key Key, d Defaults) (Session, error) {
	e, err := s.getOrCreate(ctx, key, d)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastActivityAt = time.Now().UTC()
	return e.snapshot(), nil
}

// Acquire marks the session for key busy and returns the token that owns
// the busy flag. It fails with ErrBusy, leaving the session untouched, when
// another request holds the flag.
func (s *Store) Acquire(ctx context.Context, key Key, d Defaults) (*Token, error) {
	var e *entry
	for {
		var err error
		if e, err = s.getOrCreate(ctx, key, d); err != nil {
			return nil, err
		}
		if !e.busy.CompareAndSwap(false, true) {
			return nil, ErrBusy
		}
		// Removal only takes idle entries, so an entry still mapped after the
		// flag is set stays mapped until Release.
		s.mu.RLock()
		current := s.entries[key] == e
		s.mu.RUnlock()
		if current {
			break
		}
		e.busy.Store(false)
	}
	e.mu.Lock()
	e.state.LastActivityAt = time.Now().UTC()
	e.mu.Unlock()
	return &Token{store: s, key: key, e: e}, nil
}

func (s *Store) Get(key Key) (Session, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// Update applies settings to the session for key, creating it when absent.
func (s *Store) Update(ctx context.Context, key Key, settings Settings, d Defaults) (Session, error) {
	e, err := s.getOrCreate(ctx, key, d)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if settings.Language != nil {
		e.state.Language = *settings.Language
	}
	if settings.AudioEnabled != nil {
		e.state.AudioEnabled = *settings.AudioEnabled
	}
	e.state.LastActivityAt = time.Now().UTC()
	return e.snapshot(), nil
}

// End removes the session for key. A session with a request in flight is
// left in place and End fails with ErrBusy.
func (s *Store) End(key Key) (Session, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	if e.busy.Load() {
		s.mu.Unlock()
		return Session{}, ErrBusy
	}
	delete(s.entries, key)
	if s.activeVideo[key.UserID] == key.VideoID {
		delete(s.activeVideo, key.UserID)
	}
	hook := s.onEvict
	s.mu.Unlock()

	e.mu.Lock()
	snap := e.snapshot()
	e.mu.Unlock()
	if hook != nil {
		hook(snap, EvictEndRequested)
	}
	return snap, nil
}

func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireInactive()
			}
		}
	}()
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) BusyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.busy.Load() {
			n++
		}
	}
	return n
}

func (s *Store) getOrCreate(ctx context.Context, key Key, d Defaults) (*entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	var (
		created  bool
		replaced *entry
	)
	s.mu.Lock()
	if e, ok = s.entries[key]; !ok {
		now := time.Now().UTC()
		e = &entry{state: Session{
			ID:             uuid.NewString(),
			Key:            key,
			Language:       d.Language,
			AudioEnabled:   d.AudioEnabled,
			CreatedAt:      now,
			LastActivityAt: now,
		}}
		s.entries[key] = e
		created = true

		// A busy previous session stays until its request ends; the
		// janitor collects it once idle.
		if prev, had := s.activeVideo[key.UserID]; had && prev != key.VideoID {
			prevKey := Key{UserID: key.UserID, VideoID: prev}
			if old, ok := s.entries[prevKey]; ok && !old.busy.Load() {
				delete(s.entries, prevKey)
				replaced = old
			}
		}
		s.activeVideo[key.UserID] = key.VideoID
	}
	hook, seeder, limit := s.onEvict, s.seeder, s.seedLimit
	s.mu.Unlock()

	if replaced != nil && hook != nil {
		replaced.mu.Lock()
		snap := replaced.snapshot()
		replaced.mu.Unlock()
		hook(snap, EvictVideoSwitch)
	}
	if created && seeder != nil {
		s.seed(ctx, e, key, seeder, limit)
	}
	return e, nil
}

func (s *Store) seed(ctx context.Context, e *entry, key Key, seeder Seeder, limit int) {
	turns, err := seeder(ctx, key, limit)
	if err != nil {
		slog.Warn("session history seed failed", "session", key.String(), "error", err)
		return
	}
	if len(turns) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.History = append(append([]Turn(nil), turns...), e.state.History...)
	e.trimHistory(s.maxHistory)
}

func (s *Store) expireInactive() {
	now := time.Now().UTC()
	var expired []Session

	s.mu.Lock()
	for key, e := range s.entries {
		if e.busy.Load() {
			continue
		}
		e.mu.Lock()
		idle := now.Sub(e.state.LastActivityAt) >= s.inactivityTimeout
		var snap Session
		if idle {
			snap = e.snapshot()
		}
		e.mu.Unlock()
		if !idle {
			continue
		}
		delete(s.entries, key)
		if s.activeVideo[key.UserID] == key.VideoID {
			delete(s.activeVideo, key.UserID)
		}
		expired = append(expired, snap)
	}
	hook := s.onEvict
	s.mu.Unlock()

	if hook != nil {
		for _, snap := range expired {
			hook(snap, EvictExpired)
		}
	}
}

// snapshot copies the state. Caller holds e.mu.
func (e *entry) snapshot() Session {
	c := e.state
	c.Busy = e.busy.Load()
	c.History = append([]Turn(nil), e.state.History...)
	c.ImageContexts = append([]string(nil), e.state.ImageContexts...)
	return c
}

// trimHistory keeps the newest max turns. Caller holds e.mu.
func (e *entry) trimHistory(max int) {
	if max > 0 && len(e.state.History) > max {
		e.state.History = append([]Turn(nil), e.state.History[len(e.state.History)-max:]...)
	}
}

// Token is the scoped ownership of a session's busy flag. Release is
// idempotent, so callers defer it and may also call it early.
type Token struct {
	store    *Store
	key      Key
	e        *entry
	once     sync.Once
	released atomic.Bool
}

func (t *Token) Key() Key { return t.key }

// Session returns a copy of the session state.
func (t *Token) Session() Session {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	return t.e.snapshot()
}

// Commit appends a completed exchange to the history.
func (t *Token) Commit(turns ...Turn) error {
	if t.released.Load() {
		return ErrReleased
	}
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	t.e.state.History = append(t.e.state.History, turns...)
	t.e.trimHistory(t.store.maxHistory)
	t.e.state.TurnCount++
	t.e.state.LastActivityAt = time.Now().UTC()
	return nil
}

// AddImageContext remembers an image description, keeping the latest few.
func (t *Token) AddImageContext(desc string) {
	if desc == "" || t.released.Load() {
		return
	}
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	t.e.state.ImageContexts = append(t.e.state.ImageContexts, desc)
	if n := len(t.e.state.ImageContexts); n > maxImageContexts {
		t.e.state.ImageContexts = append([]string(nil), t.e.state.ImageContexts[n-maxImageContexts:]...)
	}
}

// Release clears the busy flag.
func (t *Token) Release() {
	t.once.Do(func() {
		t.released.Store(true)
		t.e.mu.Lock()
		t.e.state.LastActivityAt = time.Now().UTC()
		t.e.mu.Unlock()
		t.e.busy.Store(false)
	})
}
