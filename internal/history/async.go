package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull = errors.New("history queue full")
	ErrClosed    = errors.New("history sink closed")
)

// AsyncSink decouples request handling from persistence: Append only
// enqueues, and a single worker writes records in order with a bounded
// timeout per write. Write failures are logged and dropped.
type AsyncSink struct {
	next    Sink
	timeout time.Duration
	queue   chan Record
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewAsyncSink(next Sink, buffer int, timeout time.Duration) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &AsyncSink{
		next:    next,
		timeout: timeout,
		queue:   make(chan Record, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Append(_ context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		s.dropped.Add(1)
		slog.Warn("history record dropped", "reason", "queue_full", "user_id", rec.UserID, "video_id", rec.VideoID)
		return ErrQueueFull
	}
}

func (s *AsyncSink) Recent(ctx context.Context, userID, videoID string, limit int) ([]Record, error) {
	return s.next.Recent(ctx, userID, videoID, limit)
}

// Close drains queued records, then closes the underlying sink.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.next.Close()
}

// Dropped counts records lost to a full queue; Failed counts write errors.
func (s *AsyncSink) Dropped() uint64 { return s.dropped.Load() }
func (s *AsyncSink) Failed() uint64 { return s.failed.Load() }

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.next.Append(ctx, rec)
		cancel()
		if err != nil {
			s.failed.Add(1)
			slog.Warn("history append failed", "user_id", rec.UserID, "video_id", rec.VideoID, "error", err)
		}
	}
}
