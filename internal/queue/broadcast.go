package queue

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventModelTrained announces a new face model version.
const EventModelTrained = "model.trained"

// Event is a fan-out notification delivered to every subscriber.
type Event struct {
	Type    string    `json:"type"`
	Version string    `json:"version,omitempty"`
	At      time.Time `json:"at"`
}

// Broadcaster fans events out to all subscribed processes.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// RedisBroadcaster uses a pub/sub channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster publishes on channel.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "facesense:events"
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Printf("queue: drop malformed event: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryBroadcaster fans out inside one process.
type MemoryBroadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewMemoryBroadcaster creates a broadcaster with no subscribers.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[chan Event]struct{})}
}

// Broadcast delivers ev to every subscriber that has room; slow ones miss it.
func (b *MemoryBroadcaster) Broadcast(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}
