// Package worker runs background train jobs and keeps every process's cached
// face model in step with the latest trained version.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"facesense/internal/facemodel"
	"facesense/internal/queue"
)

// Trainer rebuilds the face model.
type Trainer interface {
	Train(ctx context.Context) (facemodel.TrainResult, error)
}

// Run consumes jobs until ctx ends or the queue closes. Successful trains are
// broadcast as model.trained when events is not nil.
func Run(ctx context.Context, jobs queue.Queue, trainer Trainer, events queue.Broadcaster) error {
	messages, err := jobs.Consume(ctx)
	if err != nil {
		return err
	}
	log.Println("worker started, waiting for jobs...")
	for msg := range messages {
		msg.Done(handle(ctx, msg, trainer, events))
	}
	log.Println("worker stopped")
	return nil
}

func handle(ctx context.Context, msg queue.Message, trainer Trainer, events queue.Broadcaster) error {
	if msg.Type != queue.TypeTrain {
		log.Printf("worker: ignoring job %s of type %q", msg.ID, msg.Type)
		return nil
	}

	log.Printf("worker: training for job %s", msg.ID)
	res, err := trainer.Train(ctx)
	switch {
	case errors.Is(err, facemodel.ErrTrainingInProgress):
		// the running train already covers this request
		log.Printf("worker: job %s skipped, training already in progress", msg.ID)
		return nil
	case err != nil:
		log.Printf("worker: job %s failed: %v", msg.ID, err)
		return err
	}
	log.Printf("worker: job %s trained version %s (%d identities, %d samples)",
		msg.ID, res.Version, res.Identities, res.Samples)

	if events != nil {
		ev := queue.Event{Type: queue.EventModelTrained, Version: res.Version, At: res.TrainedAt}
		if err := events.Broadcast(ctx, ev); err != nil {
			log.Printf("worker: broadcast %s: %v", res.Version, err)
		}
	}
	return nil
}

// Invalidator drops a cached model.
type Invalidator interface {
	Invalidate()
}

// WatchModels invalidates models on every model.trained event until ctx ends,
// resubscribing after failures.
func WatchModels(ctx context.Context, events queue.Broadcaster, models Invalidator) {
	backoff := time.Second
	for ctx.Err() == nil {
		ch, err := events.Subscribe(ctx)
		if err != nil {
			log.Printf("model events: subscribe failed: %v; retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		for ev := range ch {
			if ev.Type != queue.EventModelTrained {
				continue
			}
			log.Printf("model events: version %s trained, dropping cached model", ev.Version)
			models.Invalidate()
		}
	}
}
