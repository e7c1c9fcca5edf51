package api

import "errors"

// RetryPolicy controls how an orchestrator re-schedules a failed activity.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// Every attempt is recorded as its own TaskScheduled event, so the retry
// loop replays deterministically. There is no backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// CallActivityWithRetry calls an activity until it succeeds or the policy
// is exhausted. Suspension errors are returned immediately; the last
// *ActivityError is returned once all attempts have failed.
func CallActivityWithRetry(ctx OrchestrationContext, policy RetryPolicy, name string, input any, result any) error {
	var lastErr error
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		err := ctx.CallActivity(name, input, result)
		if err == nil {
			return nil
		}
		if IsSuspended(err) {
			return err
		}
		var actErr *ActivityError
		if !errors.As(err, &actErr) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
