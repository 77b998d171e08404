// Package history persists completed conversation turns append-only, one
// record per turn.
package history

import (
	"context"
	"strings"
	"time"
)

// Record is one persisted turn.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	VideoID     string    `json:"video_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Modality    string    `json:"modality"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink is an append-only turn log. Recent is only used to seed new sessions.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	// Recent returns up to limit records for the user and video, oldest first.
	Recent(ctx context.Context, userID, videoID string, limit int) ([]Record, error)
	Close() error
}

type Config struct {
	DatabaseURL string
	LogPath     string
}

// Open picks Postgres when a database URL is set, then a JSON-lines file,
// and falls back to memory.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return NewPostgresSink(ctx, cfg.DatabaseURL)
	case strings.TrimSpace(cfg.LogPath) != "":
		return NewFileSink(cfg.LogPath)
	default:
		return NewMemorySink(), nil
	}
}

// Kind names the sink implementation for logs and health output.
func Kind(s Sink) string {
	switch v := s.(type) {
	case *PostgresSink:
		return "postgres"
	case *FileSink:
		return "jsonl"
	case *MemorySink:
		return "memory"
	case *AsyncSink:
		return Kind(v.next)
	default:
		return "custom"
	}
}
