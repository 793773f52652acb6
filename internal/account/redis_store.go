package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cbruun/smsbridge/internal/model"
)

const defaultKey = "smsbridge:account"

type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, key: defaultKey}
}

func (s *RedisStore) Get(ctx context.Context) (model.Account, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("fetch account config: %w", err)
	}

	var acct model.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return model.Account{}, fmt.Errorf("decode account config: %w", err)
	}
	return acct, nil
}

func (s *RedisStore) Set(ctx context.Context, acct model.Account) error {
	b, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	// No TTL: the snapshot lives until it is replaced.
	return s.rdb.Set(ctx, s.key, b, 0).Err()
}
