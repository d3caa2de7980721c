package offline

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"quizlink/tools/errs"
)

// RedisStore keeps the queue blob as a plain string value (SET key blob).
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "redis get", "key", key)
	}
	return b, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, blob []byte) error {
	if err := s.rdb.Set(ctx, key, blob, 0).Err(); err != nil {
		return errs.WrapMsg(err, "redis set", "key", key)
	}
	return nil
}
