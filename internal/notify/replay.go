package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Claim is a held delivery guard.
type Claim interface {
	Release(ctx context.Context) error
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Claim, bool, error)
}

// RedisReplayProtector claims delivery keys with SET NX so a booking
// confirmation reaches the notifier once per replay window, even across workers.
// Each claim stores its own token and only that holder can release it, so a
// slow failing attempt never frees a key a later attempt has taken over.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

var releaseClaim = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire claims key for ttl. It reports false when another delivery holds it.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (Claim, bool, error) {
	if r.Client == nil {
		return noClaim{}, true, nil
	}
	token := uuid.NewString()
	full := r.Prefix + key
	ok, err := r.Client.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return redisClaim{client: r.Client, key: full, token: token}, true, nil
}

type redisClaim struct {
	client *redis.Client
	key    string
	token  string
}

func (c redisClaim) Release(ctx context.Context) error {
	return releaseClaim.Run(ctx, c.client, []string{c.key}, c.token).Err()
}

type noClaim struct{}

func (noClaim) Release(context.Context) error { return nil }
