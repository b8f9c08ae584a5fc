// Package cache holds shared RenderStore backends.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plate-market/api/internal/render"
)

const (
	defaultKeyPrefix = "plates:render:"
	scanBatch        = 256
)

// RedisStore keeps rendered images in Redis hashes so every API instance
// shares one render cache.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. A ttl of zero keeps entries until Flush.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (s *RedisStore) key(fingerprint string) string { return s.prefix + fingerprint }

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (render.Rendered, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return render.Rendered{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	data, ok := fields["data"]
	if !ok {
		return render.Rendered{}, false, nil
	}
	width, _ := strconv.Atoi(fields["width"])
	height, _ := strconv.Atoi(fields["height"])
	return render.Rendered{
		Data:        []byte(data),
		ContentType: fields["content_type"],
		Width:       width,
		Height:      height,
		Fingerprint: fingerprint,
	}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, fingerprint string, value render.Rendered) error {
	key := s.key(fingerprint)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"data", value.Data,
			"content_type", value.ContentType,
			"width", value.Width,
			"height", value.Height,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Flush deletes every key under the store prefix.
func (s *RedisStore) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("cache: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ render.RenderStore = (*RedisStore)(nil)
