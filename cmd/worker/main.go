package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"facesense/internal/app"
	"facesense/internal/config"
	"facesense/internal/worker"
)

// Worker consumes train jobs and announces every new model version.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}
	defer a.Close()

	if a.InProcessJobs() {
		log.Println("WARNING: QUEUE_BACKEND is memory; this worker will only see its own jobs")
	}

	if err := worker.Run(ctx, a.Jobs, a.Recognition, a.Events); err != nil {
		log.Printf("queue consume init failed: %v", err)
	}
}
