package cart

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists one cart document per session. Save replaces the whole
// document in a single write.
type Store interface {
	Load(ctx context.Context, sessionID string) (Cart, error)
	Save(ctx context.Context, sessionID string, c Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisStore keeps carts as JSON strings under cart:{session}.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a Redis backed cart store. A non-positive ttl keeps
// carts until they are deleted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}

// Load returns the stored cart, or an empty cart when none exists.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (Cart, error) {
	data, err := s.client.Get(ctx, cartKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return New(), nil
		}
		return Cart{}, err
	}
	return Decode(data), nil
}

// Save writes the cart and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, sessionID string, c Cart) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, cartKey(sessionID), data, ttl).Err()
}

// Delete removes the stored cart.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, cartKey(sessionID)).Err()
}
