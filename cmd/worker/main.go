package main

import (
	"context"
	"log"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/promptmack/assistant/internal/adapters"
	"github.com/promptmack/assistant/internal/config"
	"github.com/promptmack/assistant/internal/jobs"
	"github.com/promptmack/assistant/internal/workflows"
)

var (
	loadConfig      = config.Load
	dialTemporal    = client.Dial
	dialRedis       = jobs.DialRedis
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	// Follow-ups only make sense against the tracker the API writes to.
	var tracker jobs.Tracker = jobs.NewMemoryTracker()
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := dialRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return err
		}
		defer redisClient.Close()
		tracker = jobs.NewRedisTracker(redisClient, cfg.JobTTLDuration())
	} else {
		log.Println("warning: REDIS_URL is not set; follow-ups will not see jobs recorded by the API")
	}

	firecrawl := adapters.NewFirecrawl(adapters.FirecrawlConfig{
		APIKey:  cfg.FirecrawlAPIKey,
		BaseURL: cfg.FirecrawlBaseURL,
		Options: []adapters.Option{adapters.WithTimeout(cfg.VendorTimeoutDuration())},
	})
	activities := workflows.NewActivities(jobs.NewService(tracker, firecrawl))

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.FollowUpWorkflow)
	w.RegisterActivity(activities)

	log.Printf("Promptmack follow-up worker started on %s", cfg.TemporalTaskQueue)
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}
