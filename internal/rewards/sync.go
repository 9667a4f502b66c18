package rewards

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultInvalidationChannel is the pub/sub channel replicas listen on.
const DefaultInvalidationChannel = "reward_phases:invalidate"

// Invalidator propagates catalog invalidations between replicas over Redis pub/sub.
type Invalidator struct {
	Client  *redis.Client
	Channel string
	Catalog *Catalog
	Logger  *zerolog.Logger
}

func (i Invalidator) channel() string {
	if i.Channel == "" {
		return DefaultInvalidationChannel
	}
	return i.Channel
}

// Invalidate clears the local cache and notifies the other replicas.
func (i Invalidator) Invalidate(ctx context.Context) error {
	if i.Catalog != nil {
		i.Catalog.Invalidate()
	}
	if i.Client == nil {
		return nil
	}
	return i.Client.Publish(ctx, i.channel(), "invalidate").Err()
}

// Listen clears the local cache on every message until ctx is cancelled.
func (i Invalidator) Listen(ctx context.Context) error {
	if i.Client == nil || i.Catalog == nil {
		return errors.New("invalidator: redis client and catalog are required")
	}
	sub := i.Client.Subscribe(ctx, i.channel())
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			i.Catalog.Invalidate()
			if i.Logger != nil {
				i.Logger.Debug().Str("channel", msg.Channel).Msg("reward phase invalidation received")
			}
		}
	}
}
