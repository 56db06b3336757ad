// Package pollutil drives a submitted backend job to a terminal state under a
// deadline. Synchronous backends never enter the loop; queue-based ones share
// this single implementation so deadline and cancellation handling is not
// duplicated per adapter.
package pollutil

import (
	"context"
	"errors"
	"time"
)

// Status classifies a single poll observation.
type Status int

const (
	StatusProcessing Status = iota
	StatusSucceeded
	StatusFailed
)

// ErrTimedOut reports that the attempt's budget expired before the job
// reached a terminal state. Callers treat it exactly like a failure.
var ErrTimedOut = errors.New("polling timed out before job completed")

// PollFunc inspects the job once. It returns StatusProcessing to keep
// waiting, StatusSucceeded when the caller has captured the final output, or
// StatusFailed with an explanatory error.
type PollFunc func(ctx context.Context) (Status, error)

// Await polls at a fixed interval until the job reaches a terminal state or
// ctx expires. The wait between polls yields the scheduler; it is never a
// busy loop. Context expiry is reported as ErrTimedOut so the orchestrator
// classifies it as a deadline failure.
func Await(ctx context.Context, interval time.Duration, poll PollFunc) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Join(ErrTimedOut, ctx.Err())
		case <-ticker.C:
			status, err := poll(ctx)
			switch status {
			case StatusSucceeded:
				return nil
			case StatusFailed:
				if err == nil {
					err = errors.New("job reported failure without detail")
				}
				return err
			default:
				// Still processing; transient poll errors also fall through
				// here so a single flaky status fetch does not kill the job.
			}
		}
	}
}
