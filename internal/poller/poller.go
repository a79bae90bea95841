// Package poller turns submit-then-poll vendor APIs into one bounded call.
package poller

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 10
	DefaultInterval    = 3000 * time.Millisecond
)

type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	MaxAttempts int
	Interval    time.Duration
	Sleep       SleepFunc
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// CheckFunc reports the current value and whether polling can stop.
type CheckFunc[T any] func(ctx context.Context, attempt int) (T, bool, error)

type Result[T any] struct {
	Value    T
	Attempts int
	State    State
}

func (r Result[T]) Completed() bool {
	return r.State == StateCompleted
}

// Until sleeps a fixed interval before every check and stops on completion,
// on the first check error, or after MaxAttempts checks. Exhausting the
// attempts is not an error: the result carries StateTimedOut instead.
func Until[T any](ctx context.Context, opts Options, check CheckFunc[T]) (Result[T], error) {
	opts = opts.withDefaults()
	result := Result[T]{State: StatePolling}
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := opts.Sleep(ctx, opts.Interval); err != nil {
			return result, err
		}
		value, done, err := check(ctx, attempt)
		result.Attempts = attempt
		if err != nil {
			return result, err
		}
		if done {
			result.Value = value
			result.State = StateCompleted
			return result, nil
		}
	}
	result.State = StateTimedOut
	return result, nil
}

// Job is a vendor-side long running operation.
type Job[T any] struct {
	Submit func(ctx context.Context) (string, error)
	Status func(ctx context.Context, jobID string) (T, bool, error)
}

type JobResult[T any] struct {
	Result[T]
	JobID string
}

// Run submits the job and polls its status with Until.
func Run[T any](ctx context.Context, opts Options, job Job[T]) (JobResult[T], error) {
	jobID, err := job.Submit(ctx)
	if err != nil {
		return JobResult[T]{Result: Result[T]{State: StateSubmitted}}, err
	}
	result, err := Until(ctx, opts, func(ctx context.Context, attempt int) (T, bool, error) {
		return job.Status(ctx, jobID)
	})
	return JobResult[T]{Result: result, JobID: jobID}, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
