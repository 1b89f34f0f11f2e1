// Package main runs the ucl-sync Temporal worker.
package main

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/nucleus/ucl-sync/internal/activities"
	"github.com/nucleus/ucl-sync/internal/app"
	"github.com/nucleus/ucl-sync/internal/config"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting ucl-sync worker: address=%s namespace=%s queue=%s",
		cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TemporalTaskQueue)

	logger, err := app.NewLogger(false, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})

	acts := activities.NewActivities(cfg, logger)
	w.RegisterActivity(acts.RunExtraction)
	w.RegisterActivity(acts.RunLoad)
	w.RegisterActivity(acts.PreviewEntity)

	log.Printf("Registered 3 activities: RunExtraction, RunLoad, PreviewEntity")

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
