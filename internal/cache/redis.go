package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tutor:answer:"

// RedisBackend shares answers between service instances. Expiry is left to
// Redis key TTLs; entries carry a checksum so a damaged value reads as
// ErrCorrupt instead of a wrong answer.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisOption func(*RedisBackend)

// WithKeyPrefix namespaces keys, e.g. per deployment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

type redisEntry struct {
	Text      string    `json:"text"`
	Audio     []byte    `json:"audio,omitempty"`
	Format    string    `json:"format,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Sum       string    `json:"sum"`
}

func NewRedisBackend(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisBackend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	b := &RedisBackend{client: client, ttl: ttl, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DialRedis parses url, connects and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (Answer, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Answer{}, false, nil
	}
	if err != nil {
		return Answer{}, false, err
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Answer{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	a := Answer{Text: e.Text, Audio: e.Audio, Format: e.Format, CreatedAt: e.CreatedAt}
	if e.Sum != checksum(a) {
		return Answer{}, false, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return a, true, nil
}

func (b *RedisBackend) SetIfAbsent(ctx context.Context, key string, a Answer) (bool, error) {
	val, err := json.Marshal(redisEntry{
		Text:      a.Text,
		Audio:     a.Audio,
		Format:    a.Format,
		CreatedAt: a.CreatedAt,
		Sum:       checksum(a),
	})
	if err != nil {
		return false, err
	}
	return b.client.SetNX(ctx, b.prefix+key, val, b.ttl).Result()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+key).Err()
}

func (b *RedisBackend) Purge(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return b.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Len is not tracked for Redis: counting would scan the whole prefix on
// every stats call.
func (b *RedisBackend) Len(context.Context) (int, error) {
	return 0, ErrNotCounted
}

// Evictions is always zero: Redis expires keys on its own.
func (b *RedisBackend) Evictions() uint64 { return 0 }

func (b *RedisBackend) Name() string { return "redis" }

func checksum(a Answer) string {
	h := sha256.New()
	h.Write([]byte(a.Text))
	h.Write([]byte{0x1f})
	h.Write([]byte(a.Format))
	h.Write([]byte{0x1f})
	h.Write(a.Audio)
	return hex.EncodeToString(h.Sum(nil))
}
