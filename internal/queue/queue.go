// Package queue carries background jobs between the API and the worker, and
// broadcasts model events back to every API process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TypeTrain asks a worker to rebuild the face model.
const TypeTrain = "train"

// Message is one job. ack, when set by the backend, settles it.
type Message struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Body        []byte    `json:"body,omitempty"`
	PublishedAt time.Time `json:"published_at"`

	ack func(error)
}

// NewMessage builds a message with a fresh id.
func NewMessage(typ string, body []byte) Message {
	return Message{ID: uuid.NewString(), Type: typ, Body: body, PublishedAt: time.Now().UTC()}
}

// Done settles the message with the broker. A nil err acknowledges it.
func (m Message) Done(err error) {
	if m.ack != nil {
		m.ack(err)
	}
}

// Queue moves jobs from publishers to consumers.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory queues jobs on a buffered channel. Jobs never leave the process.
type InMemory struct {
	ch chan Message
}

// NewInMemory holds up to size pending jobs.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish blocks while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume delivers jobs until ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue keeps pending jobs in a list. A consumed job is moved atomically
// to <key>:processing and removed from there when settled; failed jobs are
// kept in <key>:failed for inspection.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
	failed     string
}

// NewRedisQueue uses key, or "facesense:jobs" when empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "facesense:jobs"
	}
	return &RedisQueue{client: client, key: key, processing: key + ":processing", failed: key + ":failed"}
}

// Publish pushes msg to the head of the list.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

// Requeue moves jobs left in the processing list by a crashed consumer back
// to the pending list. It returns how many were moved.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Consume pops jobs from the tail with BLMOVE. Stranded jobs from an earlier
// run are requeued first.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	if n, err := q.Requeue(ctx); err != nil {
		return nil, fmt.Errorf("queue: requeue %s: %w", q.processing, err)
	} else if n > 0 {
		log.Printf("queue: requeued %d stranded jobs from %s", n, q.processing)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", 5*time.Second).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					log.Printf("queue: blmove %s: %v", q.key, err)
					time.Sleep(time.Second)
				}
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				log.Printf("queue: drop malformed message: %v", err)
				q.settle(raw, err)
				continue
			}
			msg.ack = func(err error) { q.settle(raw, err) }
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *RedisQueue) settle(raw string, jobErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, raw)
	if jobErr != nil {
		pipe.LPush(ctx, q.failed, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("queue: settle job: %v", err)
	}
}
