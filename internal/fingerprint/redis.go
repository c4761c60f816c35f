package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow keeps per-sender fingerprint windows in a Redis sorted set
// scored by observation time. Appends are durable across instances, which is
// what rules out a per-process cache here.
type RedisWindow struct {
	client *redis.Client
	span   time.Duration
}

// NewRedisWindow builds a window store retaining entries for span.
func NewRedisWindow(client *redis.Client, span time.Duration) *RedisWindow {
	if span <= 0 {
		span = 7 * 24 * time.Hour
	}
	return &RedisWindow{client: client, span: span}
}

func windowKey(sender string) string {
	return "voxdrop:fp:" + sender
}

// Append adds an entry and trims everything older than the retention span.
func (w *RedisWindow) Append(ctx context.Context, sender string, entry Entry) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode window entry: %w", err)
	}
	key := windowKey(sender)
	pipe := w.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(entry.At.UnixMilli()),
		Member: string(member),
	})
	cutoff := time.Now().Add(-w.span).UnixMilli()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff))
	pipe.Expire(ctx, key, w.span)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append window entry: %w", err)
	}
	return nil
}

// Recent returns entries observed at or after since.
func (w *RedisWindow) Recent(ctx context.Context, sender string, since time.Time) ([]Entry, error) {
	members, err := w.client.ZRangeByScore(ctx, windowKey(sender), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixMilli()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}
	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		var entry Entry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			// Skip entries written by an incompatible version rather than
			// failing the whole inspection.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
