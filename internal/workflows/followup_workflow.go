package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	DefaultFollowUpInterval  = 30 * time.Second
	DefaultFollowUpMaxChecks = 20

	StatusCancelled = "cancelled"
	StatusMissing   = "missing"
)

type FollowUpInput struct {
	JobID     string
	Interval  time.Duration
	MaxChecks int
}

type FollowUpResult struct {
	Status string
	Checks int
}

// FollowUpWorkflow re-checks a pending vendor job on a fixed interval until it
// finishes, disappears from the tracker, or the check budget runs out.
func FollowUpWorkflow(ctx workflow.Context, input FollowUpInput) (FollowUpResult, error) {
	interval := input.Interval
	if interval <= 0 {
		interval = DefaultFollowUpInterval
	}
	maxChecks := input.MaxChecks
	if maxChecks <= 0 {
		maxChecks = DefaultFollowUpMaxChecks
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	logger := workflow.GetLogger(ctx)

	result := FollowUpResult{Status: "pending"}
	for result.Checks < maxChecks {
		if err := workflow.Sleep(ctx, interval); err != nil {
			if temporal.IsCanceledError(err) {
				result.Status = StatusCancelled
				return result, nil
			}
			return result, err
		}
		result.Checks++

		var output RecheckOutput
		if err := workflow.ExecuteActivity(ctx, "RecheckJob", RecheckInput{JobID: input.JobID}).Get(ctx, &output); err != nil {
			if temporal.IsCanceledError(err) {
				result.Status = StatusCancelled
				return result, nil
			}
			logger.Error("job re-check failed", "job_id", input.JobID, "error", err)
			continue
		}
		if output.Status != "pending" {
			logger.Info("job follow-up finished", "job_id", input.JobID, "status", output.Status)
			result.Status = output.Status
			return result, nil
		}
	}
	logger.Info("job still pending after follow-up budget", "job_id", input.JobID, "checks", result.Checks)
	return result, nil
}
