package durable

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus is the external signal-delivery transport (spec.md §4.7
// "waitForSignal"/"emit" crossing process boundaries). A single-process
// deployment can rely on MemBus; a multi-node deployment needs RedisBus
// so a signal emitted on one node wakes a suspended execution polled by
// another.
type Bus interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) (unsubscribe func(), err error)
}

// MemBus is an in-process pub/sub bus, grounded on the teacher's event
// dispatch fan-out (eventmanager.go's goroutine-per-hook pattern).
type MemBus struct {
	mu   sync.Mutex
	subs map[string][]func([]byte)
}

func NewMemBus() *MemBus {
	return &MemBus{subs: map[string][]func([]byte){}}
}

func (b *MemBus) Publish(ctx context.Context, channel string, message []byte) error {
	b.mu.Lock()
	handlers := append([]func([]byte){}, b.subs[channel]...)
	b.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		go h(message)
	}
	return nil
}

func (b *MemBus) Subscribe(ctx context.Context, channel string, handler func(message []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], handler)
	idx := len(b.subs[channel]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[channel]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}, nil
}

// RedisBus is the multi-node Bus backend, using go-redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(addr string) *RedisBus {
	return &RedisBus{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (b *RedisBus) Close() error { return b.client.Close() }

func (b *RedisBus) Publish(ctx context.Context, channel string, message []byte) error {
	return b.client.Publish(ctx, channel, message).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(message []byte)) (func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		_ = sub.Close()
	}, nil
}

var _ Bus = (*MemBus)(nil)
var _ Bus = (*RedisBus)(nil)
