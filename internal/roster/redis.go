package roster

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel shared by all API instances.
const DefaultChannel = "qrattend:roster"

// RedisBridge publishes through Redis so that every API instance's hub sees
// events, whichever instance accepted the submission.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
}

// NewRedisBridge wires a hub to a Redis channel.
func NewRedisBridge(client *redis.Client, hub *Hub, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, hub: hub, channel: channel}
}

// Publish sends ev to Redis; Run on each instance delivers it locally.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run relays Redis messages into the local hub until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
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
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("roster: drop malformed event: %v", err)
				continue
			}
			_ = b.hub.Publish(ctx, ev)
		}
	}
}
