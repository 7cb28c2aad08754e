package convo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisOpTimeout = 2 * time.Second

// RedisStore shares drafts between replicas. Redis owns expiry, so a draft
// disappears server-side when its TTL runs out.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore returns a Store writing keys as prefix+owner.
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// NewRedisClient parses url (redis://...) and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (s *RedisStore) key(owner string) string {
	return s.prefix + owner
}

// Put stores d for owner until ttl elapses. Write failures are logged; the
// conversation simply restarts on the next message.
func (s *RedisStore) Put(owner string, d Draft, ttl time.Duration) {
	d.Owner = owner
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		s.logger.Warn("encode draft", zap.String("owner", owner), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key(owner), payload, ttl).Err(); err != nil {
		s.logger.Warn("store draft", zap.String("owner", owner), zap.Error(err))
	}
}

// Get returns the live draft for owner.
func (s *RedisStore) Get(owner string) (Draft, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(owner)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("load draft", zap.String("owner", owner), zap.Error(err))
		}
		return Draft{}, false
	}

	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		s.logger.Warn("decode draft", zap.String("owner", owner), zap.Error(err))
		return Draft{}, false
	}
	return d, true
}

// Clear drops any draft for owner.
func (s *RedisStore) Clear(owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key(owner)).Err(); err != nil {
		s.logger.Warn("clear draft", zap.String("owner", owner), zap.Error(err))
	}
}
