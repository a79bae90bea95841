package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/promptmack/assistant/internal/adapters"
	"github.com/promptmack/assistant/internal/api"
	"github.com/promptmack/assistant/internal/auth"
	"github.com/promptmack/assistant/internal/blob"
	"github.com/promptmack/assistant/internal/catalog"
	"github.com/promptmack/assistant/internal/chat"
	"github.com/promptmack/assistant/internal/config"
	"github.com/promptmack/assistant/internal/events"
	"github.com/promptmack/assistant/internal/jobs"
	"github.com/promptmack/assistant/internal/llm"
	"github.com/promptmack/assistant/internal/prompt"
	"github.com/promptmack/assistant/internal/store"
	"github.com/promptmack/assistant/internal/store/sqlstore"
	"github.com/promptmack/assistant/internal/tools"
	"github.com/promptmack/assistant/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

type closableStore interface {
	store.Store
	Close() error
}

const sessionPurgeSchedule = "@hourly"

var (
	loadConfig = config.Load
	openStore  = func(cfg config.Config, migrate bool) (closableStore, error) {
		return sqlstore.New(sqlstore.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, Migrate: migrate})
	}
	dialRedis    = jobs.DialRedis
	dialTemporal = client.Dial
	newBlobStore = func(cfg config.Config) (*blob.MinioStore, error) {
		return blob.NewMinio(blob.MinioConfig{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			Region:    cfg.BlobRegion,
			UseSSL:    cfg.BlobUseSSL,
			PublicURL: cfg.BlobPublicURL,
		})
	}
	newServer = func(deps api.Deps, cfg config.Config) server {
		return api.NewServer(deps, cfg)
	}
	notifyContext           = signal.NotifyContext
	stdout        io.Writer = os.Stdout
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistant",
		Short:         "Promptmack chat assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newUserCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(stdout, "%s database is up to date\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	var email, password string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user with an email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg, cfg.AutoMigrate)
			if err != nil {
				return err
			}
			defer st.Close()
			user, err := auth.NewService(st, auth.Options{}).Register(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "created user %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&email, "email", "", "user email")
	addCmd.Flags().StringVar(&password, "password", "", "user password")
	_ = addCmd.MarkFlagRequired("email")
	_ = addCmd.MarkFlagRequired("password")
	userCmd.AddCommand(addCmd)
	return userCmd
}

func serve(ctx context.Context, cfg config.Config) error {
	st, err := openStore(cfg, cfg.AutoMigrate)
	if err != nil {
		return err
	}
	defer st.Close()

	checks := map[string]api.ReadyCheck{}
	var tracker jobs.Tracker = jobs.NewMemoryTracker()
	if cfg.RedisURL != "" {
		redisClient, err := dialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		redisTracker := jobs.NewRedisTracker(redisClient, cfg.JobTTLDuration())
		tracker = redisTracker
		checks["jobs"] = redisTracker.Ping
	}

	vendorOpts := []adapters.Option{adapters.WithTimeout(cfg.VendorTimeoutDuration())}
	firecrawl := adapters.NewFirecrawl(adapters.FirecrawlConfig{APIKey: cfg.FirecrawlAPIKey, BaseURL: cfg.FirecrawlBaseURL, Options: vendorOpts})
	skyvern := adapters.NewSkyvern(adapters.SkyvernConfig{APIKey: cfg.SkyvernAPIKey, BaseURL: cfg.SkyvernBaseURL, Options: vendorOpts})
	jobService := jobs.NewService(tracker, firecrawl)

	var (
		pending   catalog.PendingRecorder = jobService
		followUps api.FollowUps
	)
	if cfg.TemporalAddress != "" {
		temporalClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return fmt.Errorf("temporal: %w", err)
		}
		if temporalClient != nil {
			defer temporalClient.Close()
		}
		workflowService := workflows.NewService(temporalClient, cfg.TemporalTaskQueue).WithSchedule(workflows.FollowUpInput{
			Interval:  cfg.FollowUpIntervalDuration(),
			MaxChecks: cfg.FollowUpMaxChecks,
		})
		pending = workflows.NewFollowUpRecorder(jobService, workflowService)
		followUps = workflowService
	}

	var blobs blob.Store
	if cfg.BlobEndpoint != "" {
		minioStore, err := newBlobStore(cfg)
		if err != nil {
			return err
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			log.Printf("warning: blob bucket %s unavailable: %v", cfg.BlobBucket, err)
		}
		blobs = minioStore
	}

	registry, err := catalog.NewRegistry(catalog.Deps{
		Search:   adapters.NewSerper(adapters.SerperConfig{APIKey: cfg.SerperAPIKey, BaseURL: cfg.SerperBaseURL, Options: vendorOpts}),
		Similar:  adapters.NewExa(adapters.ExaConfig{APIKey: cfg.ExaAPIKey, BaseURL: cfg.ExaBaseURL, Options: vendorOpts}),
		Forms:    skyvern,
		Weather:  adapters.NewWeather(adapters.WeatherConfig{BaseURL: cfg.WeatherBaseURL, Options: vendorOpts}),
		Images:   adapters.NewImagen(adapters.ImagenConfig{APIKey: cfg.GoogleAPIKey, BaseURL: cfg.ImagenBaseURL, Model: cfg.ImagenModel, Options: vendorOpts}),
		Web:      firecrawl,
		Jobs:     pending,
		Blobs:    blobs,
		Disabled: cfg.DisabledTools,
	})
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(llm.Config{
		Mode:     cfg.LLMMode,
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey(),
	})
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	orchestrator, err := chat.New(chat.Options{
		Provider:   provider,
		Dispatcher: tools.NewDispatcher(registry),
		Store:      st,
		Broker:     broker,
		Identity:   loadIdentity(cfg),
		MaxSteps:   cfg.ChatMaxSteps,
	})
	if err != nil {
		return err
	}

	authService := auth.NewService(st, auth.Options{SessionTTL: cfg.SessionTTLDuration()})
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(sessionPurgeSchedule, func() { purgeSessions(ctx, authService) }); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := newServer(api.Deps{
		Store:     st,
		Auth:      authService,
		Chat:      orchestrator,
		Broker:    broker,
		Registry:  registry,
		Jobs:      jobService,
		FollowUps: followUps,
		Tasks:     skyvern,
		Blobs:     blobs,
		Checks:    checks,
	}, cfg)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Promptmack assistant listening on %s (%d tools, llm %s/%s)", addr, len(registry.Names()), cfg.LLMMode, cfg.LLMProvider)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadIdentity reads the assistant identity from the configured file or the
// nearest ASSISTANT.md. The built-in identity is used when neither exists.
func loadIdentity(cfg config.Config) string {
	var (
		identity string
		err      error
	)
	if cfg.PromptFile != "" {
		identity, err = prompt.ReadFile(cfg.PromptFile)
	} else {
		identity, err = prompt.ReadFromDisk()
	}
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("warning: failed to read assistant prompt: %v", err)
		}
		return ""
	}
	return identity
}

func purgeSessions(ctx context.Context, authService *auth.Service) {
	purged, err := authService.PurgeExpired(ctx)
	if err != nil {
		log.Printf("session purge failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("purged %d expired sessions", purged)
	}
}
