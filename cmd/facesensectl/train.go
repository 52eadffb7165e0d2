package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"facesense/internal/app"
	"facesense/internal/queue"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the face model from every stored sample",
	Long: `Train rebuilds the model in this process, then tells running API
processes to reload it.`,
	RunE: runTrain,
}

func runTrain(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	a, err := app.New(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	res, err := a.Recognition.Train(ctx)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Printf("Trained version %s: %d identities, %d samples in %s\n",
		res.Version, res.Identities, res.Samples, time.Since(start).Round(time.Millisecond))

	ev := queue.Event{Type: queue.EventModelTrained, Version: res.Version, At: res.TrainedAt}
	if err := a.Events.Broadcast(ctx, ev); err != nil {
		log.Printf("broadcast %s: %v (running APIs keep their cached model)", res.Version, err)
	}
	return nil
}
