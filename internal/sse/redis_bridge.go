package sse

import (
	"context"
	"encoding/json"
	"fmt"

	"rifa-service/internal/logger"
	"rifa-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// envelope wraps a row event on the Redis channel with the id of the
// instance that produced it, so an instance does not deliver its own
// events twice.
type envelope struct {
	Origin string          `json:"origin"`
	Event  models.RowEvent `json:"event"`
}

// RedisBridge spreads row events across service instances. Emit delivers
// to the local emitter immediately and publishes to a shared Redis channel;
// Run re-emits events published by other instances, so every connected
// browser sees every row change no matter which instance handled the write.
type RedisBridge struct {
	client   *redis.Client
	channel  string
	local    *RowEventEmitter
	logger   *logger.Logger
	instance string
}

func NewRedisBridge(client *redis.Client, channel string, local *RowEventEmitter, log *logger.Logger) *RedisBridge {
	return &RedisBridge{
		client:   client,
		channel:  channel,
		local:    local,
		logger:   log,
		instance: uuid.NewString(),
	}
}

// Emit implements the realtime emitter used by the raffle service.
func (b *RedisBridge) Emit(event models.RowEvent) {
	b.local.Emit(event)

	payload, err := json.Marshal(envelope{Origin: b.instance, Event: event})
	if err != nil {
		b.logger.Error("REALTIME", fmt.Sprintf("failed to marshal row event: %v", err))
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		// Local clients already got the event; only remote fanout is lost.
		b.logger.Error("REALTIME", fmt.Sprintf("failed to publish row event to redis: %v", err))
	}
}

// Run subscribes to the shared channel and re-emits remote events locally
// until the context is cancelled. Intended to run in its own goroutine.
func (b *RedisBridge) Run(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	b.logger.Info("REALTIME", fmt.Sprintf("subscribed to redis channel %s", b.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error("REALTIME", fmt.Sprintf("dropped malformed row event: %v", err))
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			b.local.Emit(env.Event)
		}
	}
}
