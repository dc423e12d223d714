package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"afggram/internal/util"
)

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broker fans events out across processes. Subscribe blocks, calling fn for
// every event, until ctx is done.
type Broker interface {
	Publisher
	Subscribe(ctx context.Context, fn func(Event)) error
	Close() error
}

// MemoryBroker delivers synchronously inside one process.
type MemoryBroker struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]func(Event))}
}

func (b *MemoryBroker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, fn func(Event)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Close() error { return nil }

const DefaultRedisChannel = "afggram:realtime"

// RedisBroker uses Redis pub/sub. Delivery is at-most-once.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(client *redis.Client, channel string) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBroker{client: client, channel: channel}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	logger := util.LoggerFromContext(ctx)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("realtime_event_decode_failed", "err", err)
				continue
			}
			fn(ev)
		}
	}
}

// Close is a no-op; the client belongs to the caller.
func (b *RedisBroker) Close() error { return nil }
