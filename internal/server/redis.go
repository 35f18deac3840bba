package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// relayChannel is the Redis pub/sub channel shared by all server
// instances.
const relayChannel = "syncspace:relay"

// RedisBridge fans relay frames out across server instances through a
// Redis pub/sub channel. Every instance, including the publisher, receives
// each frame back and delivers it to its local connections.
type RedisBridge struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
	logger *log.Logger

	messages chan []byte
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewRedisBridge connects to Redis and subscribes to the relay channel.
func NewRedisBridge(ctx context.Context, addr, password string, logger *log.Logger) (*RedisBridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	pubsub := rdb.Subscribe(ctx, relayChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", relayChannel, err)
	}

	b := &RedisBridge{
		rdb:      rdb,
		pubsub:   pubsub,
		logger:   logger,
		messages: make(chan []byte, 256),
	}

	b.wg.Add(1)
	go b.receiveLoop()

	return b, nil
}

// Publish implements Bridge.
func (b *RedisBridge) Publish(ctx context.Context, payload []byte) error {
	if err := b.rdb.Publish(ctx, relayChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", relayChannel, err)
	}
	return nil
}

// Messages implements Bridge.
func (b *RedisBridge) Messages() <-chan []byte {
	return b.messages
}

// Close implements Bridge. Idempotent.
func (b *RedisBridge) Close() error {
	b.closeOnce.Do(func() {
		if err := b.pubsub.Close(); err != nil {
			b.closeErr = fmt.Errorf("failed to close subscription: %w", err)
		}
		b.wg.Wait()
		if err := b.rdb.Close(); err != nil && b.closeErr == nil {
			b.closeErr = fmt.Errorf("failed to close redis client: %w", err)
		}
	})
	return b.closeErr
}

func (b *RedisBridge) receiveLoop() {
	defer b.wg.Done()
	defer close(b.messages)

	for msg := range b.pubsub.Channel() {
		select {
		case b.messages <- []byte(msg.Payload):
		default:
			b.logger.Printf("Bridge buffer full, dropping frame")
		}
	}
}
