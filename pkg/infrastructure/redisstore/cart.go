package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"storefront/pkg/domain/model"
)

const DefaultCartTTL = 30 * 24 * time.Hour

// CartStorage keeps each serialized cart under storefront:cart:<session>.
// Every save pushes the expiry forward.
type CartStorage struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewCartStorage(client redis.Cmdable, ttl time.Duration) *CartStorage {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartStorage{client: client, ttl: ttl}
}

func (s *CartStorage) Load(ctx context.Context, session string) ([]byte, error) {
	data, err := s.client.Get(ctx, cartKey(session)).Bytes()
	if err == redis.Nil {
		return nil, model.ErrCartNotFound
	}
	if err != nil {
		return nil, storageError(err, "load cart")
	}
	return data, nil
}

func (s *CartStorage) Save(ctx context.Context, session string, data []byte) error {
	if err := s.client.Set(ctx, cartKey(session), data, s.ttl).Err(); err != nil {
		return storageError(err, "save cart")
	}
	return nil
}

func (s *CartStorage) Delete(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, cartKey(session)).Err(); err != nil {
		return storageError(err, "delete cart")
	}
	return nil
}

func cartKey(session string) string {
	return Namespace + ":cart:" + session
}

type redisError struct {
	op    string
	cause error
}

func (e *redisError) Error() string   { return e.op + ": " + e.cause.Error() }
func (e *redisError) Unwrap() []error { return []error{model.ErrPersistence, e.cause} }

func storageError(err error, op string) error {
	return &redisError{op: op, cause: err}
}
