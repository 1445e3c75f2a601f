package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/presgrade-backend/internal/app"
	"github.com/yungbote/presgrade-backend/internal/orchestrator"
	"github.com/yungbote/presgrade-backend/internal/platform/envutil"
)

// Standalone queue worker. It shares the record store with the API process
// and claims submissions through the same atomic pop, so any number of these
// can run next to the API's synchronous processing endpoint.
func main() {
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start worker: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	pollSeconds := envutil.GetEnvAsInt("WORKER_POLL_SECONDS", 5, a.Log)
	ctx := context.Background()

	a.Log.Info("Worker started", "poll_seconds", pollSeconds)
	for {
		sub, err := a.Orchestrator.ProcessNext(ctx, "")
		if errors.Is(err, orchestrator.ErrQueueEmpty) {
			time.Sleep(time.Duration(pollSeconds) * time.Second)
			continue
		}
		if err != nil {
			a.Log.Error("Processing cycle failed", "error", err)
			time.Sleep(time.Duration(pollSeconds) * time.Second)
			continue
		}
		a.Log.Info("Processed submission", "submission_id", sub.ID, "status", sub.Status)
	}
}
