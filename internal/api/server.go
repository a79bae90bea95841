package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/promptmack/assistant/internal/auth"
	"github.com/promptmack/assistant/internal/blob"
	"github.com/promptmack/assistant/internal/chat"
	"github.com/promptmack/assistant/internal/config"
	"github.com/promptmack/assistant/internal/events"
	"github.com/promptmack/assistant/internal/jobs"
	"github.com/promptmack/assistant/internal/store"
	"github.com/promptmack/assistant/internal/tools"
)

type Broker interface {
	Publish(event events.ChatEvent)
	Subscribe(ctx context.Context, chatID string) <-chan events.ChatEvent
}

type ChatService interface {
	Run(ctx context.Context, turn chat.Turn, emit chat.EmitFunc) error
	Load(ctx context.Context, chatID string, userID string) (*store.Chat, error)
	History(ctx context.Context, userID string) ([]store.ChatSummary, error)
	Delete(ctx context.Context, chatID string, userID string) error
}

type JobService interface {
	Get(ctx context.Context, jobID string) (*jobs.AsyncJob, error)
	Recheck(ctx context.Context, jobID string) (*jobs.AsyncJob, error)
}

// FollowUps stops the background follow-up of a job once it is settled.
type FollowUps interface {
	CancelFollowUp(ctx context.Context, jobID string) error
}

// TaskService proxies browser-automation task lookups.
type TaskService interface {
	GetTask(ctx context.Context, taskID string) (map[string]any, error)
	TaskSteps(ctx context.Context, taskID string) (any, error)
	CancelTask(ctx context.Context, taskID string) (map[string]any, error)
}

// ReadyCheck reports whether an optional dependency is reachable.
type ReadyCheck func(ctx context.Context) error

type Deps struct {
	Store     store.Store
	Auth      *auth.Service
	Chat      ChatService
	Broker    Broker
	Registry  *tools.Registry
	Jobs      JobService
	FollowUps FollowUps
	Tasks     TaskService
	Blobs     blob.Store
	Checks    map[string]ReadyCheck
}

type Server struct {
	store     store.Store
	auth      *auth.Service
	chat      ChatService
	broker    Broker
	registry  *tools.Registry
	jobs      JobService
	followUps FollowUps
	tasks     TaskService
	blobs     blob.Store
	checks    map[string]ReadyCheck
	cfg       config.Config
}

func NewServer(deps Deps, cfg config.Config) *Server {
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 5 << 20
	}
	return &Server{
		store:     deps.Store,
		auth:      deps.Auth,
		chat:      deps.Chat,
		broker:    deps.Broker,
		registry:  deps.Registry,
		jobs:      deps.Jobs,
		followUps: deps.FollowUps,
		tasks:     deps.Tasks,
		blobs:     deps.Blobs,
		checks:    deps.Checks,
		cfg:       cfg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: !s.allowsAnyOrigin(),
		MaxAge:           300,
	}))
	r.Use(s.auth.Middleware)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	r.Post("/auth/register", s.register)
	r.Post("/auth/login", s.login)
	r.Post("/auth/logout", s.logout)

	r.Get("/api/test", s.selfTest)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)
		r.Post("/api/chat", s.postChat)
		r.Delete("/api/chat", s.deleteChat)
		r.Get("/api/chat/{id}", s.getChat)
		r.Get("/api/chat/{id}/events", s.streamChatEvents)
		r.Get("/api/history", s.history)
		r.Post("/api/files/upload", s.uploadFile)
		r.Get("/api/jobs/{id}", s.getJob)
		r.Get("/api/tools", s.listTools)
		r.Get("/api/skyvern/tasks/{taskId}", s.getSkyvernTask)
		r.Get("/api/skyvern/tasks/{taskId}/steps", s.getSkyvernTaskSteps)
		r.Post("/api/skyvern/tasks/{taskId}/cancel", s.cancelSkyvernTask)
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) allowsAnyOrigin() bool {
	for _, origin := range s.corsOrigins() {
		if origin == "*" {
			return true
		}
	}
	return false
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			subsystems[name] = subsystemStatus{Status: "error", Error: err.Error()}
			overall = http.StatusServiceUnavailable
		} else {
			subsystems[name] = subsystemStatus{Status: "ok"}
		}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

func currentUser(r *http.Request) *store.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server.ListenAndServe()
}
