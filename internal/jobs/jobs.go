// Package jobs remembers vendor jobs that outlived their poll budget so a
// client can re-check them later.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promptmack/assistant/internal/store"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("job not found")

type AsyncJob struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	ChatID     string          `json:"chatId,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Status     Status          `json:"status"`
	Polls      int             `json:"polls"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  string          `json:"createdAt"`
	UpdatedAt  string          `json:"updatedAt"`
}

func (j AsyncJob) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

type Tracker interface {
	Put(ctx context.Context, job AsyncJob) error
	Get(ctx context.Context, jobID string) (*AsyncJob, error)
	Delete(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// StatusChecker queries a vendor job once.
type StatusChecker interface {
	JobStatus(ctx context.Context, kind string, jobID string) (map[string]any, bool, error)
}

type Service struct {
	tracker Tracker
	checker StatusChecker
	now     func() time.Time
}

func NewService(tracker Tracker, checker StatusChecker) *Service {
	return &Service{tracker: tracker, checker: checker, now: time.Now}
}

// RecordPending stores a job that is still running on the vendor side.
func (s *Service) RecordPending(ctx context.Context, job AsyncJob) error {
	now := store.FormatTime(s.now())
	job.Status = StatusPending
	if job.CreatedAt == "" {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return s.tracker.Put(ctx, job)
}

func (s *Service) Get(ctx context.Context, jobID string) (*AsyncJob, error) {
	job, err := s.tracker.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// Recheck queries the vendor once for a pending job and stores the outcome.
// Finished jobs are returned as they are.
func (s *Service) Recheck(ctx context.Context, jobID string) (*AsyncJob, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Finished() {
		return job, nil
	}
	payload, done, err := s.checker.JobStatus(ctx, job.Kind, job.ID)
	if err != nil {
		return nil, fmt.Errorf("check %s job %s: %w", job.Kind, job.ID, err)
	}
	job.Polls++
	job.UpdatedAt = store.FormatTime(s.now())
	switch {
	case done:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		job.Status = StatusCompleted
		job.Result = encoded
	case payload["status"] == "failed" || payload["status"] == "cancelled":
		job.Status = StatusFailed
		if msg, ok := payload["error"].(string); ok && msg != "" {
			job.Error = msg
		} else {
			job.Error = fmt.Sprintf("%s job %v", job.Kind, payload["status"])
		}
	}
	if err := s.tracker.Put(ctx, *job); err != nil {
		return nil, err
	}
	return job, nil
}

type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]AsyncJob
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: map[string]AsyncJob{}}
}

func (m *MemoryTracker) Put(ctx context.Context, job AsyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Result = append(json.RawMessage(nil), job.Result...)
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryTracker) Get(ctx context.Context, jobID string) (*AsyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	job.Result = append(json.RawMessage(nil), job.Result...)
	return &job, nil
}

func (m *MemoryTracker) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *MemoryTracker) Ping(ctx context.Context) error {
	return ctx.Err()
}
