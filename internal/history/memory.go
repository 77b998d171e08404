package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	newID = uuid.NewString
	now   = func() time.Time { return time.Now().UTC() }
)

// MemorySink keeps records in process. Used when no durable sink is set.
type MemorySink struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string][]Record)}
}

func memoryKey(userID, videoID string) string { return userID + "\x1f" + videoID }

func (s *MemorySink) Append(_ context.Context, rec Record) error {
	rec = prepare(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey(rec.UserID, rec.VideoID)
	s.records[k] = append(s.records[k], rec)
	return nil
}

func (s *MemorySink) Recent(_ context.Context, userID, videoID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.records[memoryKey(userID, videoID)], limit), nil
}

func (s *MemorySink) Close() error { return nil }

func tail(arr []Record, limit int) []Record {
	if len(arr) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	return append([]Record(nil), arr[len(arr)-limit:]...)
}
