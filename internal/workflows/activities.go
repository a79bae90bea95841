package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"

	"github.com/promptmack/assistant/internal/jobs"
)

type RecheckInput struct {
	JobID string
}

type RecheckOutput struct {
	Status string
	Polls  int
}

type Activities struct {
	jobs *jobs.Service
}

func NewActivities(jobs *jobs.Service) *Activities {
	return &Activities{jobs: jobs}
}

func (a *Activities) RecheckJob(ctx context.Context, input RecheckInput) (RecheckOutput, error) {
	job, err := a.jobs.Recheck(ctx, input.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return RecheckOutput{Status: StatusMissing}, nil
	}
	if err != nil {
		return RecheckOutput{}, err
	}
	if activity.IsActivity(ctx) {
		activity.GetLogger(ctx).Info("re-checked job", "job_id", job.ID, "status", string(job.Status), "polls", job.Polls)
	}
	return RecheckOutput{Status: string(job.Status), Polls: job.Polls}, nil
}
