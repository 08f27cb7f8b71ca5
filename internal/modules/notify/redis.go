package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "tripmatch:trip:"

func channelName(tripID string) string {
	return channelPrefix + tripID
}

// RedisBus fans changes out across API replicas with Redis Pub/Sub.
type RedisBus struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisBus(rdb *redis.Client, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify.RedisBus.Publish: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName(c.TripID), payload).Err(); err != nil {
		return fmt.Errorf("notify.RedisBus.Publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, tripID string) (<-chan Change, func(), error) {
	ps := b.rdb.Subscribe(ctx, channelName(tripID))
	// Wait for the subscription confirmation so no publish after this call is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("notify.RedisBus.Subscribe: %w", err)
	}

	out := make(chan Change, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					b.log.Warn("dropping malformed trip change", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
