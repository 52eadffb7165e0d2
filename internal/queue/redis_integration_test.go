//go:build integration

package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"facesense/internal/queue"
)

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueue(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := queue.NewRedisQueue(client, "test:jobs")
	ok := queue.NewMessage(queue.TypeTrain, []byte(`{"requested_by":"admin"}`))
	failing := queue.NewMessage(queue.TypeTrain, nil)
	for _, m := range []queue.Message{ok, failing} {
		if err := q.Publish(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first := <-msgs
	if first.ID != ok.ID || string(first.Body) != `{"requested_by":"admin"}` {
		t.Fatalf("expected FIFO delivery of %s, got %+v", ok.ID, first)
	}
	first.Done(nil)
	second := <-msgs
	second.Done(errors.New("boom"))

	if n := client.LLen(ctx, "test:jobs:processing").Val(); n != 0 {
		t.Errorf("processing list should be empty, has %d", n)
	}
	if n := client.LLen(ctx, "test:jobs:failed").Val(); n != 1 {
		t.Errorf("expected one failed job, got %d", n)
	}
}

func TestRedisQueue_RequeuesStranded(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	q := queue.NewRedisQueue(client, "test:stranded")
	if err := client.LPush(ctx, "test:stranded:processing", `{"id":"x","type":"train"}`).Err(); err != nil {
		t.Fatal(err)
	}
	n, err := q.Requeue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("requeue = %d, %v", n, err)
	}
	if got := client.LLen(ctx, "test:stranded").Val(); got != 1 {
		t.Errorf("pending list has %d jobs, want 1", got)
	}
}

func TestRedisBroadcaster(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := queue.NewRedisBroadcaster(client, "test:events")
	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Broadcast(ctx, queue.Event{Type: queue.EventModelTrained, Version: "v1", At: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		if ev.Type != queue.EventModelTrained || ev.Version != "v1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
