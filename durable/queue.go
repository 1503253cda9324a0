package durable

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResumptionMessage is the unit of work enqueued whenever an execution
// becomes runnable again: on start, on timer fire, and on signal
// delivery (spec.md §4.8 "Worker loop").
type ResumptionMessage struct {
	ExecutionID string
	Reason      string
}

// Queue decouples "something made this execution runnable" from "a
// worker picks it up and resumes it", so multiple worker processes can
// share the load (spec.md §4.8).
type Queue interface {
	Enqueue(ctx context.Context, msg ResumptionMessage) error
	Consume(ctx context.Context, handler func(msg ResumptionMessage) error) (stop func(), err error)
}

// MemQueue is a single-process FIFO queue for tests and small
// deployments, grounded on the teacher's channel-based worker pool
// shape (scope.go's dispose goroutine draining a channel).
type MemQueue struct {
	mu      sync.Mutex
	ch      chan ResumptionMessage
	closeCh chan struct{}
	once    sync.Once
}

func NewMemQueue(buffer int) *MemQueue {
	return &MemQueue{
		ch:      make(chan ResumptionMessage, buffer),
		closeCh: make(chan struct{}),
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, msg ResumptionMessage) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemQueue) Consume(ctx context.Context, handler func(msg ResumptionMessage) error) (func(), error) {
	go func() {
		for {
			select {
			case msg := <-q.ch:
				_ = handler(msg)
			case <-q.closeCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		q.once.Do(func() { close(q.closeCh) })
	}, nil
}

// RedisQueue is a list-based queue (LPUSH to enqueue, RPOP polled every
// pollEvery to dequeue) backed by go-redis, for multi-node worker
// deployments. A message popped by a worker that crashes before its
// handler returns is not redelivered. Failed
// handlers push the message onto a dead-letter list rather than
// silently dropping it.
type RedisQueue struct {
	client    *redis.Client
	key       string
	dlqKey    string
	pollEvery time.Duration
}

func NewRedisQueue(addr, key string) *RedisQueue {
	return &RedisQueue{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		key:       key,
		dlqKey:    key + ":dlq",
		pollEvery: 500 * time.Millisecond,
	}
}

func (q *RedisQueue) Close() error { return q.client.Close() }

func (q *RedisQueue) Enqueue(ctx context.Context, msg ResumptionMessage) error {
	data := msg.ExecutionID + "|" + msg.Reason
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, handler func(msg ResumptionMessage) error) (func(), error) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(q.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.drainOnce(ctx, handler)
			}
		}
	}()
	return func() { close(done) }, nil
}

func (q *RedisQueue) drainOnce(ctx context.Context, handler func(msg ResumptionMessage) error) {
	for {
		res, err := q.client.RPop(ctx, q.key).Result()
		if err == redis.Nil || err != nil {
			return
		}
		msg := parseResumptionMessage(res)
		if err := handler(msg); err != nil {
			q.client.LPush(ctx, q.dlqKey, res)
		}
	}
}

func parseResumptionMessage(s string) ResumptionMessage {
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return ResumptionMessage{ExecutionID: s[:i], Reason: s[i+1:]}
		}
	}
	return ResumptionMessage{ExecutionID: s}
}

var _ Queue = (*MemQueue)(nil)
var _ Queue = (*RedisQueue)(nil)
