package workflows

import (
	"context"
	"fmt"
	"log"

	"go.temporal.io/sdk/client"

	"github.com/promptmack/assistant/internal/jobs"
)

const DefaultTaskQueue = "assistant-jobs"

type Service struct {
	client    client.Client
	taskQueue string
	input     FollowUpInput
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

// WithSchedule sets the interval and check budget used for new follow-ups.
func (s *Service) WithSchedule(input FollowUpInput) *Service {
	s.input = input
	return s
}

func (s *Service) StartFollowUp(ctx context.Context, jobID string) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(jobID),
		TaskQueue: s.taskQueue,
	}
	input := s.input
	input.JobID = jobID
	_, err := s.client.ExecuteWorkflow(ctx, options, FollowUpWorkflow, input)
	return err
}

func (s *Service) CancelFollowUp(ctx context.Context, jobID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(jobID), "")
}

func workflowID(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// FollowUpRecorder records pending jobs and starts a follow-up workflow for
// each. A workflow that fails to start leaves the job for manual re-checks.
type FollowUpRecorder struct {
	jobs    *jobs.Service
	service *Service
}

func NewFollowUpRecorder(jobs *jobs.Service, service *Service) *FollowUpRecorder {
	return &FollowUpRecorder{jobs: jobs, service: service}
}

func (r *FollowUpRecorder) RecordPending(ctx context.Context, job jobs.AsyncJob) error {
	if err := r.jobs.RecordPending(ctx, job); err != nil {
		return err
	}
	if r.service == nil {
		return nil
	}
	if err := r.service.StartFollowUp(ctx, job.ID); err != nil {
		log.Printf("start follow-up for %s job %s: %v", job.Kind, job.ID, err)
	}
	return nil
}
